package model

import "time"

const EnvelopeVersion = "v1"

// Envelope is the JSON output frame shared by every command.
type Envelope struct {
	Version  string       `json:"version"`
	Success  bool         `json:"success"`
	Data     any          `json:"data,omitempty"`
	Error    *ErrorBody   `json:"error"`
	Warnings []string     `json:"warnings,omitempty"`
	Meta     EnvelopeMeta `json:"meta"`
}

type ErrorBody struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

type EnvelopeMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Command   string    `json:"command"`
	Network   string    `json:"network,omitempty"`
}

// OperationOutcome is the payload of a mutating pool operation. Message
// holds the full human-readable result text; the structured fields
// exist for machine consumers of the JSON envelope.
type OperationOutcome struct {
	Operation          string `json:"operation"`
	Network            string `json:"network"`
	Asset              string `json:"asset"`
	Amount             string `json:"amount"`
	TxHash             string `json:"tx_hash,omitempty"`
	HealthFactorBefore string `json:"health_factor_before,omitempty"`
	HealthFactorAfter  string `json:"health_factor_after,omitempty"`
	Message            string `json:"message"`
}

// PortfolioReport wraps the read-only portfolio markdown.
type PortfolioReport struct {
	Network  string `json:"network"`
	Account  string `json:"account"`
	Markdown string `json:"markdown"`
}
