// Excubitor - Security Audit Event Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/excubitor

package validation

import (
	"strings"
	"testing"
)

func TestGetValidator_Singleton(t *testing.T) {
	v1 := GetValidator()
	v2 := GetValidator()

	if v1 != v2 {
		t.Error("GetValidator() should return the same singleton instance")
	}

	if v1 == nil {
		t.Error("GetValidator() should not return nil")
	}
}

// eventShape mirrors the tags used on collector inputs.
type eventShape struct {
	Type     string `validate:"required,max=64"`
	Severity string `validate:"omitempty,oneof=low medium high critical"`
	Source   string `validate:"required,max=256"`
	IP       string `validate:"omitempty,ip"`
}

// configShape mirrors the tags used on configuration sections.
type configShape struct {
	WindowSize    int     `validate:"min=1,max=86400"`
	Sensitivity   float64 `validate:"gte=0,lte=1"`
	MinDataPoints int     `validate:"min=1"`
}

func TestValidateStruct_Valid(t *testing.T) {
	tests := []struct {
		name  string
		input interface{}
	}{
		{
			name: "full event",
			input: &eventShape{
				Type:     "authentication",
				Severity: "high",
				Source:   "auth-service",
				IP:       "203.0.113.9",
			},
		},
		{
			name: "optional fields empty",
			input: &eventShape{
				Type:   "data_access",
				Source: "api",
			},
		},
		{
			name: "config at bounds",
			input: &configShape{
				WindowSize:    86400,
				Sensitivity:   1.0,
				MinDataPoints: 1,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateStruct(tt.input); err != nil {
				t.Errorf("ValidateStruct() returned unexpected error: %v", err)
			}
		})
	}
}

func TestValidateStruct_Invalid(t *testing.T) {
	tests := []struct {
		name       string
		input      interface{}
		wantField  string
		wantTag    string
		wantReason string
	}{
		{
			name:       "missing type",
			input:      &eventShape{Source: "api"},
			wantField:  "Type",
			wantTag:    "required",
			wantReason: "Type:required",
		},
		{
			name: "unknown severity",
			input: &eventShape{
				Type:     "authentication",
				Severity: "catastrophic",
				Source:   "api",
			},
			wantField:  "Severity",
			wantTag:    "oneof",
			wantReason: "Severity:oneof",
		},
		{
			name: "bad ip",
			input: &eventShape{
				Type:   "network",
				Source: "fw",
				IP:     "999.0.0.1",
			},
			wantField:  "IP",
			wantTag:    "ip",
			wantReason: "IP:ip",
		},
		{
			name: "sensitivity above bound",
			input: &configShape{
				WindowSize:    3600,
				Sensitivity:   1.5,
				MinDataPoints: 30,
			},
			wantField:  "Sensitivity",
			wantTag:    "lte",
			wantReason: "Sensitivity:lte",
		},
		{
			name: "window size too small",
			input: &configShape{
				WindowSize:    0,
				Sensitivity:   0.5,
				MinDataPoints: 30,
			},
			wantField:  "WindowSize",
			wantTag:    "min",
			wantReason: "WindowSize:min",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(tt.input)
			if err == nil {
				t.Fatal("ValidateStruct() should have returned an error")
			}

			errs := err.Errors()
			if len(errs) == 0 {
				t.Fatal("Errors() returned empty slice")
			}

			if errs[0].Field() != tt.wantField {
				t.Errorf("Field() = %q, want %q", errs[0].Field(), tt.wantField)
			}
			if errs[0].Tag() != tt.wantTag {
				t.Errorf("Tag() = %q, want %q", errs[0].Tag(), tt.wantTag)
			}
			if err.Reason() != tt.wantReason {
				t.Errorf("Reason() = %q, want %q", err.Reason(), tt.wantReason)
			}
		})
	}
}

func TestValidateStruct_MultipleErrors(t *testing.T) {
	input := &eventShape{
		Severity: "extreme",
	}

	err := ValidateStruct(input)
	if err == nil {
		t.Fatal("ValidateStruct() should have returned an error")
	}

	// Type required, Severity oneof, Source required.
	if len(err.Errors()) != 3 {
		t.Errorf("Errors() length = %d, want 3", len(err.Errors()))
	}

	msg := err.Error()
	if !strings.Contains(msg, ";") {
		t.Errorf("Error() should join messages with ';': %q", msg)
	}

	// Reason reflects the first failed field only.
	if err.Reason() != "Type:required" {
		t.Errorf("Reason() = %q, want %q", err.Reason(), "Type:required")
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name    string
		input   interface{}
		wantMsg string
	}{
		{
			name:    "required",
			input:   &eventShape{Source: "api"},
			wantMsg: "Type is required",
		},
		{
			name: "oneof includes allowed values",
			input: &eventShape{
				Type:     "authentication",
				Severity: "bad",
				Source:   "api",
			},
			wantMsg: "Severity must be one of: low medium high critical",
		},
		{
			name: "ip",
			input: &eventShape{
				Type:   "network",
				Source: "fw",
				IP:     "not-an-ip",
			},
			wantMsg: "IP must be a valid IP address",
		},
		{
			name: "string max includes characters",
			input: &eventShape{
				Type:   strings.Repeat("x", 65),
				Source: "api",
			},
			wantMsg: "Type must be at most 64 characters",
		},
		{
			name: "numeric min",
			input: &configShape{
				WindowSize:    3600,
				Sensitivity:   0.5,
				MinDataPoints: 0,
			},
			wantMsg: "MinDataPoints must be at least 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(tt.input)
			if err == nil {
				t.Fatal("ValidateStruct() should have returned an error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Error() = %q, want substring %q", err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestValidateStruct_NonPointer(t *testing.T) {
	// Struct values (not pointers) validate the same way.
	if err := ValidateStruct(eventShape{Type: "authentication", Source: "api"}); err != nil {
		t.Errorf("ValidateStruct() on value = %v, want nil", err)
	}
}
