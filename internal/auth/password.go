package auth

import (
	"bufio"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/xtrntr/backoffice/internal/apperr"
)

//go:embed common_passwords.txt
var commonPasswordList string

// UserAttributes are the personal fields a password must not resemble
type UserAttributes struct {
	Email     string
	FirstName string
	LastName  string
}

// PasswordValidator checks one rule. A non-nil error's message is shown
// to the user as-is.
type PasswordValidator interface {
	Validate(password string, attrs UserAttributes) error
}

// PasswordPolicy runs every validator and reports all failures together
type PasswordPolicy struct {
	Validators []PasswordValidator
}

// DefaultPasswordPolicy returns the standard validator chain
func DefaultPasswordPolicy(minLength int) *PasswordPolicy {
	return &PasswordPolicy{Validators: []PasswordValidator{
		SimilarityValidator{MaxSimilarity: 0.7},
		MinimumLengthValidator{MinLength: minLength},
		NewCommonPasswordValidator(),
		NumericValidator{},
		MaximumLengthValidator{MaxBytes: 72},
	}}
}

// Validate returns nil or an aggregated validation error
func (p *PasswordPolicy) Validate(password string, attrs UserAttributes) error {
	var msgs []string
	for _, v := range p.Validators {
		if err := v.Validate(password, attrs); err != nil {
			msgs = append(msgs, err.Error())
		}
	}
	if len(msgs) > 0 {
		return apperr.NewValidationList(msgs)
	}
	return nil
}

// MinimumLengthValidator rejects passwords shorter than MinLength characters
type MinimumLengthValidator struct {
	MinLength int
}

func (v MinimumLengthValidator) Validate(password string, _ UserAttributes) error {
	minLen := v.MinLength
	if minLen <= 0 {
		minLen = 8
	}
	if utf8.RuneCountInString(password) >= minLen {
		return nil
	}
	unit := "characters"
	if minLen == 1 {
		unit = "character"
	}
	return fmt.Errorf("This password is too short. It must contain at least %d %s.", minLen, unit)
}

// MaximumLengthValidator rejects passwords bcrypt would refuse to hash
type MaximumLengthValidator struct {
	MaxBytes int
}

func (v MaximumLengthValidator) Validate(password string, _ UserAttributes) error {
	if len(password) <= v.MaxBytes {
		return nil
	}
	return fmt.Errorf("This password is too long. It must contain at most %d bytes.", v.MaxBytes)
}

// NumericValidator rejects passwords made only of digits
type NumericValidator struct{}

func (NumericValidator) Validate(password string, _ UserAttributes) error {
	if password == "" {
		return nil
	}
	for _, r := range password {
		if !unicode.IsDigit(r) {
			return nil
		}
	}
	return errors.New("This password is entirely numeric.")
}

// CommonPasswordValidator rejects passwords found in a known-weak list
type CommonPasswordValidator struct {
	passwords map[string]struct{}
}

// NewCommonPasswordValidator loads the embedded list
func NewCommonPasswordValidator() CommonPasswordValidator {
	return NewCommonPasswordValidatorFrom(commonPasswordList)
}

// NewCommonPasswordValidatorFrom loads a newline-separated list
func NewCommonPasswordValidatorFrom(list string) CommonPasswordValidator {
	set := make(map[string]struct{})
	sc := bufio.NewScanner(strings.NewReader(list))
	for sc.Scan() {
		line := strings.ToLower(strings.TrimSpace(sc.Text()))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		set[line] = struct{}{}
	}
	return CommonPasswordValidator{passwords: set}
}

func (v CommonPasswordValidator) Validate(password string, _ UserAttributes) error {
	if _, ok := v.passwords[strings.ToLower(strings.TrimSpace(password))]; ok {
		return errors.New("This password is too common.")
	}
	return nil
}

// SimilarityValidator rejects passwords too close to the user's own details
type SimilarityValidator struct {
	MaxSimilarity float64
}

func (v SimilarityValidator) Validate(password string, attrs UserAttributes) error {
	password = strings.ToLower(password)
	fields := []struct {
		name  string
		value string
	}{
		{"first name", attrs.FirstName},
		{"last name", attrs.LastName},
		{"email address", attrs.Email},
	}

	for _, f := range fields {
		if f.value == "" {
			continue
		}
		value := strings.ToLower(f.value)
		parts := append(splitNonWord(value), value)
		for _, part := range parts {
			if exceedsLengthRatio(password, v.MaxSimilarity, part) {
				continue
			}
			if quickRatio(password, part) >= v.MaxSimilarity &&
				sequenceRatio(password, part) >= v.MaxSimilarity {
				return fmt.Errorf("The password is too similar to the %s.", f.name)
			}
		}
	}
	return nil
}

func splitNonWord(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_')
	})
}

// exceedsLengthRatio skips comparisons where the password is so much longer
// than the value that no similarity above maxSim is possible.
func exceedsLengthRatio(password string, maxSim float64, value string) bool {
	pwdLen := utf8.RuneCountInString(password)
	valueLen := utf8.RuneCountInString(value)
	bound := maxSim / 2 * float64(pwdLen)
	return pwdLen >= 10*valueLen && float64(valueLen) < bound
}

// quickRatio is 2*M/T where M counts characters the two strings share
// (as multisets) and T is their combined length. It is an upper bound on
// sequenceRatio and only used to skip the full comparison.
func quickRatio(a, b string) float64 {
	total := utf8.RuneCountInString(a) + utf8.RuneCountInString(b)
	if total == 0 {
		return 1
	}
	avail := make(map[rune]int)
	for _, r := range b {
		avail[r]++
	}
	matches := 0
	for _, r := range a {
		if avail[r] > 0 {
			avail[r]--
			matches++
		}
	}
	return 2 * float64(matches) / float64(total)
}

// sequenceRatio is the Ratcliff/Obershelp similarity 2*M/T, where M is the
// total size of the matching blocks found by repeatedly taking the longest
// common substring and recursing on the unmatched pieces either side.
func sequenceRatio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 1
	}
	return 2 * float64(matchingChars(ra, rb)) / float64(total)
}

func matchingChars(a, b []rune) int {
	positions := make(map[rune][]int)
	for j, r := range b {
		positions[r] = append(positions[r], j)
	}

	type span struct{ alo, ahi, blo, bhi int }
	queue := []span{{0, len(a), 0, len(b)}}
	matched := 0
	for len(queue) > 0 {
		s := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		i, j, k := longestMatch(a, positions, s.alo, s.ahi, s.blo, s.bhi)
		if k == 0 {
			continue
		}
		matched += k
		if s.alo < i && s.blo < j {
			queue = append(queue, span{s.alo, i, s.blo, j})
		}
		if i+k < s.ahi && j+k < s.bhi {
			queue = append(queue, span{i + k, s.ahi, j + k, s.bhi})
		}
	}
	return matched
}

// longestMatch returns the longest block a[i:i+k] == b[j:j+k] inside the
// given bounds. Ties go to the block starting earliest in a, then in b.
func longestMatch(a []rune, positions map[rune][]int, alo, ahi, blo, bhi int) (besti, bestj, bestk int) {
	besti, bestj = alo, blo
	lengths := make(map[int]int)
	for i := alo; i < ahi; i++ {
		next := make(map[int]int)
		for _, j := range positions[a[i]] {
			if j < blo {
				continue
			}
			if j >= bhi {
				break
			}
			k := lengths[j-1] + 1
			next[j] = k
			if k > bestk {
				besti, bestj, bestk = i-k+1, j-k+1, k
			}
		}
		lengths = next
	}
	return besti, bestj, bestk
}
