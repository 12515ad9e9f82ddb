// Excubitor - Security Audit Event Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/excubitor

// Package validation provides centralized struct validation for Excubitor
// using the go-playground/validator library.
//
// # Overview
//
// Two callers share the singleton validator:
//
//   - The event collector validates inbound event payloads before admission.
//     A failed validation becomes a silent rejection: the event is dropped,
//     a counter is incremented with the compact Reason() label, and the
//     submitter receives an unexported reason string. No error is returned
//     to the pipeline.
//
//   - The configuration loader validates the assembled Config tree at
//     startup. A failed validation is fatal: the process logs the combined
//     message and exits before any component starts.
//
// # Usage
//
// Validate any struct carrying `validate` tags:
//
//	type EventInput struct {
//	    Type     string `validate:"required,max=64"`
//	    Severity string `validate:"omitempty,oneof=low medium high critical"`
//	}
//
//	if err := validation.ValidateStruct(&in); err != nil {
//	    reason := err.Reason() // e.g. "Severity:oneof"
//	    ...
//	}
//
// # Thread Safety
//
// The validator instance is created once and cached. validator.Validate
// caches struct metadata internally and is safe for concurrent use.
package validation
