package bootstrap

import (
	"fmt"
	"io"
	"os"
	"strings"
)

var bannerColors = []string{
	"\x1b[38;5;39m",
	"\x1b[38;5;45m",
	"\x1b[38;5;51m",
	"\x1b[38;5;87m",
	"\x1b[38;5;123m",
	"\x1b[38;5;159m",
}

// PrintBannerFromFile prints filename in colour, generating it from
// defaultText first when missing.
func PrintBannerFromFile(filename string, defaultText string) error {
	if err := EnsureBannerFile(filename, defaultText); err != nil {
		return fmt.Errorf("failed to ensure banner file: %w", err)
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	PrintBanner(os.Stdout, string(data))
	return nil
}

// PrintBanner writes banner line by line, cycling colours.
func PrintBanner(w io.Writer, banner string) {
	row := 0
	for _, line := range strings.Split(banner, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fmt.Fprintln(w, bannerColors[row%len(bannerColors)]+line+"\x1b[0m")
		row++
	}
}
