package llm

import (
	"fmt"
	"strings"

	"github.com/LingByte/LingCall/pkg/constants"
)

var verifyPrompt = `Check if the required information is contained inside the user message. If so,
output the single word '` + constants.VERIFY_YES + `'. If not, output the single word '` + constants.VERIFY_NO + `'.
If the user says in some way that they don't want to provide the information, output '` + constants.VERIFY_ABORT + `'.
Don't output anything but ` + constants.VERIFY_YES + `, ` + constants.VERIFY_NO + ` or ` + constants.VERIFY_ABORT + `.
If the user provides no message, output ` + constants.VERIFY_NO + `.`

var filterPrompt = `Your job is to filter out a certain piece of information from the user message.
You will be given the description of the information and the format in which the data should be returned.
Just output the filtered data without any extra text. If the data is not contained in the message,
output '` + constants.SENTINEL_FAILED + `'.`

var validatePrompt = `Check whether the given value matches the required format exactly.
Output the single word '` + constants.VERIFY_YES + `' if it does, otherwise '` + constants.VERIFY_NO + `'.
Don't output anything else.`

var classifyPrompt = `Decide which of the listed options the user message selects.
Output only the chosen option, exactly as written in the list.
If none of the options fits, output '` + constants.SENTINEL_NONE + `'.
If the user says in some way that they want to end the conversation, output '` + constants.SENTINEL_ABORT + `'.`

var askPrompt = `Have a casual conversation with the user. Over the course of the conversation you are
supposed to extract a piece of information from the user.
If the user deviates from the topic of the information you want to have, gently guide
them back to the topic. Be brief.`

// AskInformationPrompt is the completion prompt used to ask the caller for
// a piece of information.
func AskInformationPrompt(description string) string {
	return askPrompt + "\nInformation you want to have: " + description
}

func classifyOptions(labels []string) string {
	var b strings.Builder
	b.WriteString("Options:\n")
	for _, l := range labels {
		fmt.Fprintf(&b, "- %s\n", l)
	}
	return b.String()
}
