// Package validate provides the stateless field validators applied to raw
// chat answers before they are written into a draft.
//
// A validator returns the normalized value to store, or an error whose text
// is shown to the user as the reason for re-prompting.
package validate

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Func validates and normalizes a raw answer.
type Func func(raw string) (string, error)

// Length limits shared by the step catalogue.
const (
	MaxShortText = 200
	MaxLongText  = 1000
	MinNameRunes = 2
	MaxNameRunes = 80
)

// DateLayout is the canonical layout dates are stored in.
const DateLayout = "2006-01-02"

var (
	ErrEmpty        = errors.New("answer cannot be empty")
	ErrInvalidName  = errors.New("name may only contain Arabic or Latin letters")
	ErrInvalidRoom  = errors.New("room number may only contain letters, digits, '-' or '/' (max 10)")
	ErrInvalidDate  = errors.New("date must look like 2025-03-14 or 14/03/2025")
	ErrInvalidRate  = errors.New("rate must be a number between 0 and 100")
	ErrNotAnOption  = errors.New("please choose one of the listed options")
	ErrNoOptions    = errors.New("no options are available for this question")
	roomNumberRegex = regexp.MustCompile(`^[A-Za-z0-9\-/]{1,10}$`)
	spaceRegex      = regexp.MustCompile(`\s+`)
)

var dateLayouts = []string{DateLayout, "02/01/2006", "2/1/2006", "02-01-2006", "2-1-2006", "2006/01/02"}

// NormalizeDigits converts Arabic-Indic and Extended Arabic-Indic digits to ASCII.
func NormalizeDigits(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= '٠' && r <= '٩':
			return '0' + (r - '٠')
		case r >= '۰' && r <= '۹':
			return '0' + (r - '۰')
		}
		return r
	}, s)
}

// CollapseSpaces trims s and collapses inner whitespace runs to one space.
func CollapseSpaces(s string) string {
	return spaceRegex.ReplaceAllString(strings.TrimSpace(s), " ")
}

// Required rejects blank answers.
func Required(raw string) (string, error) {
	v := CollapseSpaces(raw)
	if v == "" {
		return "", ErrEmpty
	}
	return v, nil
}

// Length bounds the answer length in runes.
func Length(min, max int) Func {
	return func(raw string) (string, error) {
		n := utf8.RuneCountInString(raw)
		if n < min {
			return "", fmt.Errorf("answer must be at least %d characters", min)
		}
		if max > 0 && n > max {
			return "", fmt.Errorf("answer must be at most %d characters", max)
		}
		return raw, nil
	}
}

// Chain runs validators in order, feeding each the previous normalized value.
func Chain(fns ...Func) Func {
	return func(raw string) (string, error) {
		v := raw
		for _, fn := range fns {
			var err error
			if v, err = fn(v); err != nil {
				return "", err
			}
		}
		return v, nil
	}
}

// Text is the standard free-text validator.
func Text(min, max int) Func {
	return Chain(Required, Length(min, max))
}

// PersonName accepts Arabic or Latin letters, spaces and the name punctuation
// ' - . only.
func PersonName(raw string) (string, error) {
	v, err := Chain(Required, Length(MinNameRunes, MaxNameRunes))(raw)
	if err != nil {
		return "", err
	}
	for _, r := range v {
		switch {
		case r == ' ' || r == '\'' || r == '-' || r == '.':
		case unicode.IsLetter(r) && (unicode.In(r, unicode.Arabic) || unicode.In(r, unicode.Latin)):
		case unicode.Is(unicode.Mn, r) && unicode.In(r, unicode.Arabic):
			// harakat
		default:
			return "", ErrInvalidName
		}
	}
	return v, nil
}

// RoomNumber accepts short ward/room codes such as 204, B-12 or 3/7.
func RoomNumber(raw string) (string, error) {
	v, err := Required(NormalizeDigits(raw))
	if err != nil {
		return "", err
	}
	v = strings.ToUpper(strings.ReplaceAll(v, " ", ""))
	if !roomNumberRegex.MatchString(v) {
		return "", ErrInvalidRoom
	}
	return v, nil
}

// Date parses the common day-first and ISO layouts and normalizes to DateLayout.
func Date(raw string) (string, error) {
	v, err := Required(NormalizeDigits(raw))
	if err != nil {
		return "", err
	}
	for _, layout := range dateLayouts {
		if t, perr := time.Parse(layout, v); perr == nil {
			return t.Format(DateLayout), nil
		}
	}
	return "", ErrInvalidDate
}

// Percent accepts 0-100 with an optional trailing percent sign.
func Percent(raw string) (string, error) {
	v, err := Required(NormalizeDigits(raw))
	if err != nil {
		return "", err
	}
	v = strings.TrimSpace(strings.TrimSuffix(strings.TrimSuffix(v, "%"), "٪"))
	n, perr := strconv.Atoi(v)
	if perr != nil || n < 0 || n > 100 {
		return "", ErrInvalidRate
	}
	return strconv.Itoa(n) + "%", nil
}

// OneOf accepts an option label (case and spacing insensitive) or its
// 1-based position in options, and returns the canonical label.
func OneOf(options []string) Func {
	return func(raw string) (string, error) {
		if len(options) == 0 {
			return "", ErrNoOptions
		}
		v, err := Required(NormalizeDigits(raw))
		if err != nil {
			return "", err
		}
		if n, perr := strconv.Atoi(v); perr == nil {
			if n >= 1 && n <= len(options) {
				return options[n-1], nil
			}
			return "", ErrNotAnOption
		}
		key := Fold(v)
		for _, opt := range options {
			if Fold(opt) == key {
				return opt, nil
			}
		}
		return "", ErrNotAnOption
	}
}

// Fold is the comparison key used for option and alias matching.
func Fold(s string) string {
	return strings.ToLower(CollapseSpaces(s))
}
