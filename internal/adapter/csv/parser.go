// Package csv maps uploaded recipient files to recipient inputs.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/neomorfeo/listiq/internal/domain"
)

// Header aliases, compared after normalizeHeader.
var (
	emailAliases  = []string{"email", "email_address", "e_mail", "emailaddress", "mail", "subscriber_email"}
	statusAliases = []string{"status", "subscription_status"}
)

// Parser reads a comma separated file with a header row. The email column is
// required; a status column is optional and every other non-empty cell
// becomes metadata keyed by the original header.
type Parser struct{}

var _ domain.RecipientParser = Parser{}

func NewParser() Parser {
	return Parser{}
}

func (Parser) Parse(ctx context.Context, data string) ([]domain.RecipientInput, error) {
	r := csv.NewReader(strings.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, &domain.ValidationError{Field: "csv", Reason: "is empty"}
	}
	if err != nil {
		return nil, &domain.ValidationError{Field: "csv", Reason: fmt.Sprintf("has an unreadable header: %v", err)}
	}

	emailCol, statusCol := -1, -1
	for i, h := range header {
		switch name := normalizeHeader(h); {
		case emailCol < 0 && slices.Contains(emailAliases, name):
			emailCol = i
		case statusCol < 0 && slices.Contains(statusAliases, name):
			statusCol = i
		}
	}
	if emailCol < 0 {
		return nil, &domain.ValidationError{Field: "csv", Reason: "has no email column"}
	}

	var out []domain.RecipientInput
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &domain.ValidationError{Field: "csv", Reason: fmt.Sprintf("is malformed: %v", err)}
		}
		if blank(record) {
			continue
		}

		in := domain.RecipientInput{Email: cell(record, emailCol)}
		if statusCol >= 0 {
			in.Status = domain.RecipientStatus(cell(record, statusCol))
		}
		for i, h := range header {
			if i == emailCol || i == statusCol {
				continue
			}
			key := strings.TrimSpace(h)
			v := cell(record, i)
			if key == "" || v == "" {
				continue
			}
			if in.Metadata == nil {
				in.Metadata = make(map[string]string)
			}
			in.Metadata[key] = v
		}
		out = append(out, in)
	}
	return out, nil
}

func normalizeHeader(header string) string {
	normalized := strings.ToLower(strings.TrimSpace(header))
	normalized = strings.ReplaceAll(normalized, " ", "_")
	normalized = strings.ReplaceAll(normalized, "-", "_")
	return normalized
}

func cell(record []string, i int) string {
	if i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

func blank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
