package gcode

import (
	"sort"
	"strconv"
	"strings"
)

// Command is one decoded G-code word group
type Command struct {
	Kind       byte             // 'G' or 'M', 0 for an empty placeholder
	Code       int              // Command number (e.g., 1 for G1, 92 for G92.1)
	Subcode    int              // Dotted subcode (1 for G92.1)
	HasSubcode bool             // Subcode was present
	Args       map[byte]float64 // Arguments (X, Y, Z, E, F, S, etc.)
}

// IsEmpty reports whether the command carries nothing at all. An empty
// line parses to one empty command.
func (cmd *Command) IsEmpty() bool {
	return cmd.Kind == 0 && len(cmd.Args) == 0
}

// HasParameter checks if a parameter exists in the command
func (cmd *Command) HasParameter(param byte) bool {
	_, ok := cmd.Args[param]
	return ok
}

// GetParameter gets a parameter value, or returns the default if not present
func (cmd *Command) GetParameter(param byte, defaultValue float64) float64 {
	if val, ok := cmd.Args[param]; ok {
		return val
	}
	return defaultValue
}

// String renders the command back to G-code with arguments sorted by letter
func (cmd *Command) String() string {
	var b strings.Builder
	if cmd.Kind != 0 {
		b.WriteByte(cmd.Kind)
		b.WriteString(strconv.Itoa(cmd.Code))
		if cmd.HasSubcode {
			b.WriteByte('.')
			b.WriteString(strconv.Itoa(cmd.Subcode))
		}
	}

	letters := make([]byte, 0, len(cmd.Args))
	for l := range cmd.Args {
		letters = append(letters, l)
	}
	sort.Slice(letters, func(i, j int) bool { return letters[i] < letters[j] })

	for _, l := range letters {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteByte(l)
		b.WriteString(strconv.FormatFloat(cmd.Args[l], 'f', -1, 64))
	}
	return b.String()
}
