// Package contactcsv reads contact import files.
//
// The expected header is firstName,lastName,phoneNumber,email,tags. Column
// order is free and names are matched case-insensitively. Tags are
// separated by semicolons.
package contactcsv

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dukerupert/textblast/internal/apperr"
	"github.com/dukerupert/textblast/internal/store"
)

const op = "contacts.import"

// MaxRows bounds a single import.
const MaxRows = 10000

var columns = []string{"firstname", "lastname", "phonenumber", "email", "tags"}

// Parse reads every row of r. Any malformed row, or two rows sharing a
// phone number or email, fails the whole file.
func Parse(r io.Reader) ([]store.ContactInput, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, apperr.Invalid(op, "CSV file is empty")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Validation, op, "Invalid CSV file", err)
	}

	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	for _, col := range []string{"phonenumber", "email"} {
		if _, ok := idx[col]; !ok {
			return nil, apperr.Invalid(op, fmt.Sprintf("CSV header is missing %q", col))
		}
	}

	get := func(rec []string, col string) string {
		i, ok := idx[col]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var out []store.ContactInput
	phones := make(map[string]int)
	emails := make(map[string]int)
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, apperr.Wrap(apperr.Validation, op, fmt.Sprintf("row %d: malformed CSV", line), err)
		}
		if isBlank(rec) {
			continue
		}
		if len(out) == MaxRows {
			return nil, apperr.Invalid(op, fmt.Sprintf("CSV file has more than %d rows", MaxRows))
		}

		in := store.ContactInput{
			FirstName:   get(rec, columns[0]),
			LastName:    get(rec, columns[1]),
			PhoneNumber: get(rec, columns[2]),
			Email:       strings.ToLower(get(rec, columns[3])),
			Tags:        splitTags(get(rec, columns[4])),
		}
		if in.PhoneNumber == "" {
			return nil, apperr.Invalid(op, fmt.Sprintf("row %d: phoneNumber is required", line),
				apperr.FieldError{Field: "phoneNumber", Message: "required"})
		}
		if in.Email == "" {
			return nil, apperr.Invalid(op, fmt.Sprintf("row %d: email is required", line),
				apperr.FieldError{Field: "email", Message: "required"})
		}
		if prev, ok := phones[in.PhoneNumber]; ok {
			return nil, apperr.Conflictf(op, "row %d: phone number repeats row %d", line, prev)
		}
		if prev, ok := emails[in.Email]; ok {
			return nil, apperr.Conflictf(op, "row %d: email repeats row %d", line, prev)
		}
		phones[in.PhoneNumber] = line
		emails[in.Email] = line
		out = append(out, in)
	}

	if len(out) == 0 {
		return nil, apperr.Invalid(op, "CSV file has no contacts")
	}
	return out, nil
}

func splitTags(s string) []string {
	tags := []string{}
	for _, t := range strings.Split(s, ";") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func isBlank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
