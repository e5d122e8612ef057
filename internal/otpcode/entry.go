package otpcode

import "strings"

// Length is the number of single-character fields in a code.
const Length = 4

// Entry models the four discrete code inputs: typing a digit fills the
// field and moves focus forward, backspace on an empty field moves back.
type Entry struct {
	fields [Length]string
	focus  int
}

func (e *Entry) Input(i int, s string) {
	if i < 0 || i >= Length {
		return
	}
	if s == "" {
		e.fields[i] = ""
		e.focus = i
		return
	}
	digit := lastDigit(s)
	if digit == "" {
		return
	}
	e.fields[i] = digit
	if i < Length-1 {
		e.focus = i + 1
	} else {
		e.focus = i
	}
}

func (e *Entry) Backspace(i int) {
	if i < 0 || i >= Length {
		return
	}
	if e.fields[i] != "" {
		e.fields[i] = ""
		e.focus = i
		return
	}
	if i > 0 {
		e.fields[i-1] = ""
		e.focus = i - 1
	}
}

// Fill spreads a pasted code across the fields from the start.
func (e *Entry) Fill(code string) {
	e.Reset()
	for i, r := range Digits(code) {
		if i >= Length {
			break
		}
		e.Input(i, string(r))
	}
}

func (e *Entry) Field(i int) string {
	if i < 0 || i >= Length {
		return ""
	}
	return e.fields[i]
}

func (e *Entry) Focus() int {
	return e.focus
}

// Complete is true exactly when every field holds a digit.
func (e *Entry) Complete() bool {
	for _, f := range e.fields {
		if f == "" {
			return false
		}
	}
	return true
}

func (e *Entry) Code() string {
	return strings.Join(e.fields[:], "")
}

func (e *Entry) Reset() {
	e.fields = [Length]string{}
	e.focus = 0
}

// Valid reports whether code is exactly Length ASCII digits.
func Valid(code string) bool {
	return len(code) == Length && Digits(code) == code
}

func Digits(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func lastDigit(s string) string {
	d := Digits(s)
	if d == "" {
		return ""
	}
	return d[len(d)-1:]
}
