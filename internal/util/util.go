package util

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/text/unicode/norm"
)

var (
	IsDebug bool

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6366F1")).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#4ECDC4")).
			Bold(true)

	optionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#45B7D1")).
			Italic(true)

	exampleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#96CEB4")).
			Italic(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF4757")).
			Bold(true)

	debugErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B")).
			Bold(true).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#FF4757")).
			Padding(1, 2)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFA726")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00FF00")).
			Bold(true)
)

// SetDebugMode sets the debug mode
func SetDebugMode(debug bool) {
	IsDebug = debug
}

// ErrorHandler returns a stylized error message. Debug mode prints the full
// error chain including stack traces from pkg/errors.
func ErrorHandler(err error) string {
	if IsDebug {
		styledHeader := errorStyle.Render("DEBUG ERROR")
		styledError := debugErrorStyle.Render(fmt.Sprintf("%+v", err))
		return fmt.Sprintf("%s\n%s", styledHeader, styledError)
	}

	styledError := errorStyle.Render(fmt.Sprintf("✗ %v", err))
	styledHint := warningStyle.Render("run the program with -debug to see details")
	return fmt.Sprintf("%s\n%s", styledError, styledHint)
}

// Success renders a confirmation line
func Success(msg string) string {
	return successStyle.Render("✓ " + msg)
}

// Helper prints the help message
func Helper() {
	title := titleStyle.Render("anidl - anime episode downloader")

	usage := helpStyle.Render("Usage:")
	usageExamples := []string{
		"  anidl " + optionStyle.Render("[options]") + " " + exampleStyle.Render("<anime name>"),
		"  anidl " + optionStyle.Render("-episode 3") + " " + exampleStyle.Render("\"one piece\""),
		"  anidl " + optionStyle.Render("-episode 1-5,7") + " " + exampleStyle.Render("\"one piece\""),
	}

	options := helpStyle.Render("Options:")
	optionsList := []string{
		"  " + optionStyle.Render("-site") + "       site domain to search (default from config)",
		"  " + optionStyle.Render("-episode") + "    episodes to download, e.g. 3 or 1-5,7",
		"  " + optionStyle.Render("-host") + "       preferred host family (mediafire, gdrive, 4shared, ...)",
		"  " + optionStyle.Render("-out") + "        download directory",
		"  " + optionStyle.Render("-config") + "     path to config.yaml",
		"  " + optionStyle.Render("-links") + "      only print download links, do not fetch",
		"  " + optionStyle.Render("-headful") + "    show the browser window",
		"  " + optionStyle.Render("-debug") + "      enable debug mode with detailed information",
		"  " + optionStyle.Render("-version") + "    show version information",
	}

	fmt.Println(title)
	fmt.Println()
	fmt.Println(usage)
	for _, line := range usageExamples {
		fmt.Println(line)
	}
	fmt.Println()
	fmt.Println(options)
	for _, line := range optionsList {
		fmt.Println(line)
	}
	fmt.Println()
}

var (
	unsafeFilenameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]+`)
	repeatedUnderscores = regexp.MustCompile(`_+`)
)

// SanitizeFilename turns a title into something usable as a path element
func SanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	name = unsafeFilenameChars.ReplaceAllString(name, "_")
	name = strings.ReplaceAll(name, " ", "_")
	name = repeatedUnderscores.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return "untitled"
	}
	return name
}

// NormalizeTitle lowercases a title, strips diacritics and punctuation and
// collapses whitespace, for catalog lookups.
func NormalizeTitle(title string) string {
	decomposed := norm.NFD.String(strings.ToLower(title))
	var b strings.Builder
	space := false
	for _, r := range decomposed {
		switch {
		case unicode.Is(unicode.Mn, r):
			continue
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			space = false
		default:
			if !space && b.Len() > 0 {
				b.WriteByte(' ')
				space = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}
