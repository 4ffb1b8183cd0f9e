// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package pq implements the optional threshold-signature certificate path
// used to policy-gate Ledger Mint payloads (spec.md §4.4's "policy-gated
// issuance" open question, resolved in SPEC_FULL.md to a t-of-n Ringtail
// certificate rather than a single signer). It wraps
// github.com/luxfi/ringtail/threshold the same way the teacher's
// engine/pq/crypto.go CertificateGenerator does, but scoped to one
// responsibility: certifying a Mint message under a fixed validator cosigner
// set instead of generic block certification.
package pq

import (
	"fmt"
	"sync"

	"github.com/luxfi/ringtail/threshold"
)

// Cosigner holds one validator's share of a t-of-n Mint policy key.
type Cosigner struct {
	mu sync.RWMutex

	index int
	share *threshold.KeyShare
	group *threshold.GroupKey
	signer *threshold.Signer
}

// GenerateCosigners creates a fresh t-of-n threshold key and one Cosigner per
// share. It is used at genesis / validator-set rotation to mint a new Mint
// policy key; seed may be nil to draw fresh randomness.
func GenerateCosigners(t, n int, seed []byte) ([]*Cosigner, *threshold.GroupKey, error) {
	if t < 1 || n < t {
		return nil, nil, fmt.Errorf("pq: invalid threshold t=%d n=%d", t, n)
	}

	shares, group, err := threshold.GenerateKeys(t, n, seed)
	if err != nil {
		return nil, nil, fmt.Errorf("pq: threshold key generation failed: %w", err)
	}

	cosigners := make([]*Cosigner, 0, len(shares))
	for i, share := range shares {
		cosigners = append(cosigners, &Cosigner{
			index:  i,
			share:  share,
			group:  group,
			signer: threshold.NewSigner(share),
		})
	}
	return cosigners, group, nil
}

// GroupKey returns the public certificate key all cosigners share.
func (c *Cosigner) GroupKey() *threshold.GroupKey {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.group
}

// Round1 begins a signing session for message identified by sessionID, over
// the cosigner subset listed in signers.
func (c *Cosigner) Round1(sessionID int, prfKey []byte, signers []int) *threshold.Round1Data {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.signer.Round1(sessionID, prfKey, signers)
}

// Round2 consumes every cosigner's Round1Data and returns this cosigner's
// Round2Data contribution over message.
func (c *Cosigner) Round2(sessionID int, message string, prfKey []byte, signers []int, round1 map[int]*threshold.Round1Data) (*threshold.Round2Data, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	r2, err := c.signer.Round2(sessionID, message, prfKey, signers, round1)
	if err != nil {
		return nil, fmt.Errorf("pq: round2 failed for cosigner %d: %w", c.index, err)
	}
	return r2, nil
}

// Finalize aggregates every cosigner's Round2Data into the certificate.
// Any cosigner that participated in Round2 can call Finalize; the result is
// the same threshold.Signature regardless of which one does.
func (c *Cosigner) Finalize(round2 map[int]*threshold.Round2Data) (*threshold.Signature, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	sig, err := c.signer.Finalize(round2)
	if err != nil {
		return nil, fmt.Errorf("pq: finalize failed for cosigner %d: %w", c.index, err)
	}
	return sig, nil
}

// Certify runs the full two-round Ringtail protocol locally across the given
// cosigner subset and returns the resulting certificate. This is the path the
// Ledger uses when the node holds (or can locally reach) every cosigner in
// the policy set — e.g. a single-operator devnet or a co-located validator
// committee — rather than running the rounds over the network.
func Certify(sessionID int, message string, prfKey []byte, signers []int, cosigners []*Cosigner) (*threshold.Signature, error) {
	if len(cosigners) == 0 {
		return nil, fmt.Errorf("pq: no cosigners supplied")
	}

	byIndex := make(map[int]*Cosigner, len(cosigners))
	for _, c := range cosigners {
		byIndex[c.index] = c
	}

	round1 := make(map[int]*threshold.Round1Data, len(signers))
	for _, idx := range signers {
		c, ok := byIndex[idx]
		if !ok {
			return nil, fmt.Errorf("pq: missing cosigner %d for requested signer set", idx)
		}
		round1[idx] = c.Round1(sessionID, prfKey, signers)
	}

	round2 := make(map[int]*threshold.Round2Data, len(signers))
	for _, idx := range signers {
		c := byIndex[idx]
		r2, err := c.Round2(sessionID, message, prfKey, signers, round1)
		if err != nil {
			return nil, err
		}
		round2[idx] = r2
	}

	return cosigners[0].Finalize(round2)
}

// Verify checks a Mint certificate against the policy group key.
func Verify(group *threshold.GroupKey, message string, sig *threshold.Signature) error {
	if group == nil || sig == nil {
		return fmt.Errorf("pq: nil group key or signature")
	}
	if !threshold.Verify(group, message, sig) {
		return fmt.Errorf("pq: certificate verification failed")
	}
	return nil
}
