package entity

import (
	"regexp"
	"strings"

	"bibliodesk.org/internal/apperr"
)

// Identifier fields (usernames, barcodes, book numbers) share one restricted
// alphabet so they can travel through URLs and file names unescaped.
var identPattern = regexp.MustCompile(`^[0-9A-Za-z_$-]+$`)

var uuidPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

func checkMaxLen(field, value string, limit int) error {
	if len(value) > limit {
		return apperr.FieldTooLong(field, limit)
	}
	return nil
}

func checkIdent(field, value string, limit int) error {
	if err := checkMaxLen(field, value, limit); err != nil {
		return err
	}
	if !identPattern.MatchString(value) {
		return apperr.FieldInvalid(field, value)
	}
	return nil
}

func checkUUID(field, value string) error {
	if !uuidPattern.MatchString(value) {
		return apperr.FieldInvalid(field, value)
	}
	return nil
}

func checkEmail(field, value string) error {
	if err := checkMaxLen(field, value, 250); err != nil {
		return err
	}
	if strings.Count(value, "@") != 1 {
		return apperr.FieldInvalid(field, value)
	}
	return nil
}

func checkNonNegative(field string, value int64) error {
	if value < 0 {
		return apperr.FieldInvalid(field, value)
	}
	return nil
}
