// Package webhooks implements the trust boundary for inbound
// deliveries: signature verification, duplicate suppression through a
// delivery ledger, and retry scheduling for failed handler runs.
package webhooks
