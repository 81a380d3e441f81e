package gcode

// Parser turns lines of G-code into commands. It remembers the last motion
// mode (G0-G3) so that a line holding only arguments repeats it.
type Parser struct {
	modalKind   byte
	modalCode   int
	modalSub    int
	modalHasSub bool
}

// NewParser creates a new G-code parser
func NewParser() *Parser {
	return &Parser{}
}

// Modal returns the remembered motion mode. kind is 0 until a G0-G3 was seen.
func (p *Parser) Modal() (kind byte, code int) {
	return p.modalKind, p.modalCode
}

// Parse parses a single line of G-code into zero or more commands. An empty
// or comment-only line yields one empty command.
func (p *Parser) Parse(line string) []Command {
	var cmds []Command
	var cur *Command

	flush := func() {
		if cur != nil {
			cmds = append(cmds, *cur)
			cur = nil
		}
	}

	i := 0
	for i < len(line) {
		c := line[i]

		switch {
		case c == ';':
			// Rest of line is a comment
			i = len(line)
			continue

		case c == '(':
			// Inline comment, skip to the closing paren
			for i < len(line) && line[i] != ')' {
				i++
			}
			i++
			continue

		case !isLetter(c):
			// Whitespace and stray characters
			i++
			continue
		}

		letter := toUpper(c)
		i++

		if letter == 'G' || letter == 'M' {
			flush()
			code, sub, hasSub, next := parseCode(line, i)
			i = next
			cur = &Command{
				Kind:       letter,
				Code:       code,
				Subcode:    sub,
				HasSubcode: hasSub,
				Args:       make(map[byte]float64),
			}
			if letter == 'G' && code <= 3 {
				p.modalKind, p.modalCode = letter, code
				p.modalSub, p.modalHasSub = sub, hasSub
			}
			continue
		}

		if cur == nil {
			// Argument-only words repeat the motion mode
			cur = &Command{
				Kind:       p.modalKind,
				Code:       p.modalCode,
				Subcode:    p.modalSub,
				HasSubcode: p.modalHasSub,
				Args:       make(map[byte]float64),
			}
		}

		value, next := parseFloat(line, i)
		i = next
		cur.Args[letter] = value
	}
	flush()

	if len(cmds) == 0 {
		cmds = append(cmds, Command{Args: make(map[byte]float64)})
	}
	return cmds
}

// parseCode parses "code[.subcode]" starting at pos. Missing digits read
// as 0.
func parseCode(s string, pos int) (code, sub int, hasSub bool, next int) {
	code, pos = parseDigits(s, pos)
	if pos < len(s) && s[pos] == '.' {
		sub, pos = parseDigits(s, pos+1)
		hasSub = true
	}
	return code, sub, hasSub, pos
}

// maxCode bounds parsed codes. Further digits are consumed but dropped so a
// long code cannot wrap around.
const maxCode = 999999999

func parseDigits(s string, pos int) (int, int) {
	value := 0
	for pos < len(s) && isDigit(s[pos]) {
		if value <= maxCode/10 {
			value = value*10 + int(s[pos]-'0')
		}
		pos++
	}
	return value, pos
}

// parseFloat parses a floating-point number from the string starting at pos.
// It accepts a sign, integer part, fraction and an exponent. The exponent
// marker is a lowercase 'e' followed by a digit or sign; an uppercase 'E'
// always starts the next (extruder) word. Malformed input reads as 0.
func parseFloat(s string, pos int) (float64, int) {
	negative := false
	if pos < len(s) && (s[pos] == '-' || s[pos] == '+') {
		negative = s[pos] == '-'
		pos++
	}

	var mantissa uint64
	scale := 0
	digits := 0

	// Integer part
	for pos < len(s) && isDigit(s[pos]) {
		if digits < 18 {
			mantissa = mantissa*10 + uint64(s[pos]-'0')
			digits++
		} else {
			scale++ // precision exhausted, keep magnitude
		}
		pos++
	}

	// Fractional part
	if pos < len(s) && s[pos] == '.' {
		pos++
		for pos < len(s) && isDigit(s[pos]) {
			if digits < 18 {
				mantissa = mantissa*10 + uint64(s[pos]-'0')
				digits++
				scale--
			}
			pos++
		}
	}

	// Exponent
	if pos+1 < len(s) && s[pos] == 'e' &&
		(isDigit(s[pos+1]) || s[pos+1] == '-' || s[pos+1] == '+') {
		p := pos + 1
		expNeg := false
		if s[p] == '-' || s[p] == '+' {
			expNeg = s[p] == '-'
			p++
		}
		if p < len(s) && isDigit(s[p]) {
			exp := 0
			for p < len(s) && isDigit(s[p]) {
				if exp < 1000 {
					exp = exp*10 + int(s[p]-'0')
				}
				p++
			}
			if expNeg {
				exp = -exp
			}
			scale += exp
			pos = p
		}
	}

	value := float64(mantissa)
	switch {
	case scale > 0:
		value *= pow10(scale)
	case scale < 0:
		value /= pow10(-scale)
	}

	if negative {
		value = -value
	}
	return value, pos
}

// pow10 returns 10^n for n >= 0
func pow10(n int) float64 {
	if n > 308 {
		n = 308
	}
	result := 1.0
	base := 10.0
	for n > 0 {
		if n&1 == 1 {
			result *= base
		}
		base *= base
		n >>= 1
	}
	return result
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// isLetter checks if a byte is a letter
func isLetter(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

// toUpper converts a byte to uppercase
func toUpper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - ('a' - 'A')
	}
	return c
}
