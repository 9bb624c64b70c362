package query

import (
	"errors"
	"net/url"
	"testing"

	"tasklane/domain"
)

func TestParseSpec(t *testing.T) {
	v := url.Values{}
	v.Set("search", " milk ")
	v.Set("priority", "HIGH")
	v.Set("status", "late")
	v.Set("sortBy", "dateAdded")
	v.Set("order", "DESC")
	v.Set("group", "project")

	spec, err := ParseSpec(v)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := Spec{Search: "milk", Priority: domain.PriorityHigh, Status: StatusLate, SortBy: SortID, Order: Desc, Group: GroupProject}
	if spec != want {
		t.Fatalf("got %+v, want %+v", spec, want)
	}
}

func TestParseSpecLenientKeys(t *testing.T) {
	v := url.Values{}
	v.Set("sortBy", "color")
	v.Set("order", "sideways")
	v.Set("group", "weekday")
	spec, err := ParseSpec(v)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if spec.SortBy != SortDefault || spec.Order != Asc || spec.Group != GroupNone {
		t.Fatalf("unknown keys should be ignored, got %+v", spec)
	}
}

func TestParseSpecRejectsUnknownEnums(t *testing.T) {
	for _, kv := range [][2]string{{"priority", "urgent"}, {"status", "overdue"}} {
		v := url.Values{}
		v.Set(kv[0], kv[1])
		if _, err := ParseSpec(v); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("%s=%s: expected validation error, got %v", kv[0], kv[1], err)
		}
	}
}
