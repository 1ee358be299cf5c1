package cli

// Default values for CLI output formatting.
const (
	// TabWidth is the width of tabs in formatted output.
	TabWidth = 2
	// MaxErrorLength is the maximum length of an error message to display in tables.
	MaxErrorLength = 48
)
