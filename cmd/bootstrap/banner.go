package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/carlmjohnson/requests"
)

const figletURL = "https://patorjk.com/software/taag/ajax/convert.php"

// GenerateBanner renders text in the Doom figlet font and saves it to filename.
// The online renderer is tried first, then the built-in letters.
func GenerateBanner(ctx context.Context, text, filename string) error {
	banner, err := fetchBanner(ctx, text)
	if err != nil {
		fmt.Printf("figlet API unavailable, using built-in font: %v\n", err)
		banner = renderBanner(text)
	}
	return os.WriteFile(filename, []byte(banner+"\n"), 0644)
}

func fetchBanner(ctx context.Context, text string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var body string
	err := requests.
		URL(figletURL).
		Param("text", text).
		Param("font", "doom").
		UserAgent("Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36").
		Accept("text/plain, */*").
		Header("Referer", "https://patorjk.com/software/taag/").
		Client(&http.Client{Timeout: 10 * time.Second}).
		ToString(&body).
		Fetch(ctx)
	if err != nil {
		return "", err
	}

	if strings.Contains(body, "<!DOCTYPE") || strings.Contains(body, "<html") {
		return "", fmt.Errorf("figlet API returned an HTML page")
	}
	banner := strings.TrimRight(strings.NewReplacer("<br>", "\n", "<br/>", "\n", "<br />", "\n").Replace(body), " \n")
	if strings.TrimSpace(banner) == "" || !strings.ContainsAny(banner, "|_/\\") {
		return "", fmt.Errorf("figlet API response is not ASCII art")
	}
	return banner, nil
}

const glyphHeight = 6

// glyphs covers the letters of the product name; others print as plain text.
var glyphs = map[rune][glyphHeight]string{
	'L': {
		" _     ",
		"| |    ",
		"| |    ",
		"| |    ",
		"| |____",
		"\\_____/",
	},
	'I': {
		" _____ ",
		"|_   _|",
		"  | |  ",
		"  | |  ",
		" _| |_ ",
		" \\___/ ",
	},
	'N': {
		" _   _ ",
		"| \\ | |",
		"|  \\| |",
		"| . ` |",
		"| |\\  |",
		"\\_| \\_/",
	},
	'G': {
		" _____ ",
		"|  __ \\",
		"| |  \\/",
		"| | __ ",
		"| |_\\ \\",
		" \\____/",
	},
	'C': {
		" _____ ",
		"/  __ \\",
		"| /  \\/",
		"| |    ",
		"| \\__/\\",
		" \\____/",
	},
	'A': {
		"  ___  ",
		" / _ \\ ",
		"/ /_\\ \\",
		"|  _  |",
		"| | | |",
		"\\_| |_/",
	},
	' ': {"  ", "  ", "  ", "  ", "  ", "  "},
}

// renderBanner draws text with the built-in glyphs.
func renderBanner(text string) string {
	upper := strings.ToUpper(text)
	for _, r := range upper {
		if _, ok := glyphs[r]; !ok {
			return text
		}
	}
	var rows [glyphHeight]strings.Builder
	for _, r := range upper {
		g := glyphs[r]
		for i := range rows {
			rows[i].WriteString(g[i])
		}
	}
	lines := make([]string, glyphHeight)
	for i := range rows {
		lines[i] = strings.TrimRight(rows[i].String(), " ")
	}
	return strings.Join(lines, "\n")
}

// EnsureBannerFile generates filename when it does not exist yet.
func EnsureBannerFile(filename, text string) error {
	if _, err := os.Stat(filename); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	if text == "" {
		text = "LingCall"
	}
	fmt.Printf("Banner file not found, generating %s...\n", filename)
	if err := GenerateBanner(context.Background(), text, filename); err != nil {
		return fmt.Errorf("failed to generate banner file: %w", err)
	}
	return nil
}
