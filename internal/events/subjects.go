package events

import (
	"strings"
	"time"
)

const (
	SubjectAllProducts = "ecolojia.product.>"

	StreamName   = "ECOLOJIA_EVENTS"
	StreamMaxAge = 7 * 24 * time.Hour
)

func SubjectProductCreated(id string) string { return "ecolojia.product." + id + ".created" }
func SubjectProductUpdated(id string) string { return "ecolojia.product." + id + ".updated" }
func SubjectProductDeleted(id string) string { return "ecolojia.product." + id + ".deleted" }
func SubjectProductScored(id string) string  { return "ecolojia.product." + id + ".scored" }

// ParseProductSubject splits "ecolojia.product.<id>.<action>" into its id and
// action. ok is false for any other subject.
func ParseProductSubject(subject string) (id, action string, ok bool) {
	rest, found := strings.CutPrefix(subject, "ecolojia.product.")
	if !found {
		return "", "", false
	}
	i := strings.LastIndexByte(rest, '.')
	if i <= 0 || i == len(rest)-1 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}
