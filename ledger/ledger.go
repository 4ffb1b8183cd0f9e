// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ledger

import (
	"fmt"
	"sort"
	"sync"

	"github.com/holiman/uint256"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/shadowmesh/core/crypto/fingerprint"
	"github.com/shadowmesh/core/dag"
	"github.com/shadowmesh/core/errs"
	"github.com/shadowmesh/core/internal/xlog"
)

// Account is one holder's balance and anti-replay nonce, per spec.md §4.4.
type Account struct {
	Balance *uint256.Int
	Nonce   uint64
}

// Outcome is a Finalized ledger vertex's application result. A Transfer or
// Burn that can't be satisfied by the sender's balance is Applied-Failed:
// the vertex stays Finalized (finalization is irreversible) but no balance
// moves, while the nonce is still consumed to block a replay.
type Outcome uint8

const (
	Applied Outcome = iota
	AppliedFailed
)

func (o Outcome) String() string {
	if o == Applied {
		return "Applied"
	}
	return "Applied-Failed"
}

// PolicyGate decides whether a Mint or Burn payload is authorized, given the
// account it targets. The default gate (see NewDefaultPolicyGate) implements
// spec.md §4.4's stated default: "Mint requires an attested issuer key, Burn
// requires the account's own signature." Burn's own-signature check is
// already covered by Payload.ValidateStatic's VerifySignature call (the
// signer key and From must match, checked here), so only Mint needs a
// distinct gate.
type PolicyGate interface {
	AllowMint(p *Payload) error
	AllowBurn(p *Payload) error
}

// defaultPolicyGate implements the spec's stated default policy.
type defaultPolicyGate struct {
	// issuerPK is the attested Mint-issuer public key; nil disables Mint
	// entirely (safer default than silently accepting any Mint).
	issuerPK []byte
}

// NewDefaultPolicyGate returns the default Mint/Burn policy: Mint requires
// a Payload signed by issuerPK, Burn requires the Payload's signer to equal
// the account it burns from.
func NewDefaultPolicyGate(issuerPK []byte) PolicyGate {
	return &defaultPolicyGate{issuerPK: issuerPK}
}

func (g *defaultPolicyGate) AllowMint(p *Payload) error {
	if len(g.issuerPK) == 0 {
		return fmt.Errorf("%w: minting disabled, no issuer key configured", errs.ErrPolicyViolation)
	}
	if string(p.SignerPK) != string(g.issuerPK) {
		return fmt.Errorf("%w: mint not signed by attested issuer key", errs.ErrPolicyViolation)
	}
	return nil
}

func (g *defaultPolicyGate) AllowBurn(p *Payload) error {
	hash := fingerprint.Hash(p.SignerPK)
	signerAccount := ids.ID(hash)
	if signerAccount != p.From {
		return fmt.Errorf("%w: burn not signed by the account it burns from", errs.ErrPolicyViolation)
	}
	return nil
}

// ThresholdVerifier checks a Mint certificate (carried as Payload.Extra)
// against message, the canonical string the policy group signed. The
// control plane (C9) supplies the concrete closure: it holds the
// *threshold.GroupKey produced by crypto/pq.GenerateCosigners and calls
// crypto/pq.Verify under the hood. Declaring this as a function type rather
// than importing github.com/luxfi/ringtail/threshold's types directly here
// keeps the ledger package free of a dependency it only ever treats
// opaquely (it never constructs or inspects a certificate itself).
type ThresholdVerifier func(message string, certificate []byte) bool

// thresholdPolicyGate gates Mint on a t-of-n Ringtail certificate instead of
// a single issuer key, per SPEC_FULL.md's resolution of the Mint policy
// Open Question (see crypto/pq's package doc). Burn's gate is identical to
// defaultPolicyGate's: the payload's own signer must match the account.
type thresholdPolicyGate struct {
	verifyMint ThresholdVerifier
}

// NewThresholdPolicyGate returns a PolicyGate that verifies Mint via a
// t-of-n Ringtail certificate instead of a single attested key.
func NewThresholdPolicyGate(verifyMint ThresholdVerifier) PolicyGate {
	return &thresholdPolicyGate{verifyMint: verifyMint}
}

func (g *thresholdPolicyGate) AllowMint(p *Payload) error {
	if g.verifyMint == nil {
		return fmt.Errorf("%w: no threshold verifier configured", errs.ErrPolicyViolation)
	}
	msg := fmt.Sprintf("mint:%s:%s", p.To, p.Amount.String())
	if !g.verifyMint(msg, p.Extra) {
		return fmt.Errorf("%w: mint certificate failed threshold verification", errs.ErrPolicyViolation)
	}
	return nil
}

func (g *thresholdPolicyGate) AllowBurn(p *Payload) error {
	hash := fingerprint.Hash(p.SignerPK)
	signerAccount := ids.ID(hash)
	if signerAccount != p.From {
		return fmt.Errorf("%w: burn not signed by the account it burns from", errs.ErrPolicyViolation)
	}
	return nil
}

// Ledger is the resource-voucher ledger's public surface.
type Ledger interface {
	// Account returns the current (Balance, Nonce) for id, or the zero
	// account if it has never been touched.
	Account(id ids.ID) Account

	// AdmissionHook derives a dag.AdmissionHook-compatible conflict key
	// from a vertex's ledger payload, wiring C4 into C2's admission path.
	AdmissionHook(v *dag.Vertex) (string, bool)

	// Apply applies one Finalized vertex's ledger payload against the
	// current state. Callers (typically the control plane, driven off
	// consensus finalization events) must call Apply in topological order
	// across the finalized set — see TopologicalOrder — since Apply assumes
	// every ancestor ledger payload has already been applied.
	Apply(v *dag.Vertex, load int) (Outcome, error)

	// StateRoot returns a deterministic hash of every account's current
	// (id, balance, nonce), for the cross-node determinism property
	// spec.md §4.4 requires tests to verify.
	StateRoot() ids.ID
}

type ledger struct {
	mu       sync.Mutex
	log      log.Logger
	accounts map[ids.ID]*Account
	fee      FeeFunc
	baseFee  uint64
	maxFee   uint64
	policy   PolicyGate
}

// New constructs a Ledger. fee defaults to LinearLoadFee if nil; policy
// defaults to a gate with minting disabled if nil.
func New(baseFee, maxFee uint64, fee FeeFunc, policy PolicyGate, logger log.Logger) Ledger {
	if fee == nil {
		fee = LinearLoadFee
	}
	if policy == nil {
		policy = NewDefaultPolicyGate(nil)
	}
	if logger == nil {
		logger = xlog.NoOp()
	}
	return &ledger{
		accounts: make(map[ids.ID]*Account),
		fee:      fee,
		baseFee:  baseFee,
		maxFee:   maxFee,
		policy:   policy,
		log:      logger,
	}
}

func (l *ledger) getOrCreate(id ids.ID) *Account {
	a, ok := l.accounts[id]
	if !ok {
		a = &Account{Balance: uint256.NewInt(0)}
		l.accounts[id] = a
	}
	return a
}

func (l *ledger) Account(id ids.ID) Account {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.accounts[id]
	if !ok {
		return Account{Balance: uint256.NewInt(0)}
	}
	return Account{Balance: a.Balance.Clone(), Nonce: a.Nonce}
}

// AdmissionHook parses v's payload and returns its conflict key, treating a
// payload that fails to decode as conflict-free (Store.Admit's own checks
// don't call this hook for signature/structure validation — that happens
// earlier, at submission — so a malformed payload here just means "no
// conflict set", which is safe: it cannot be Finalized into a balance
// change it would otherwise dispute, since Apply will reject it too).
func (l *ledger) AdmissionHook(v *dag.Vertex) (string, bool) {
	p, err := DecodePayload(v.Payload)
	if err != nil {
		return "", false
	}
	return p.ConflictKey()
}

// Apply is part of Ledger.
func (l *ledger) Apply(v *dag.Vertex, load int) (Outcome, error) {
	p, err := DecodePayload(v.Payload)
	if err != nil {
		return AppliedFailed, fmt.Errorf("%w: %v", errs.ErrCorrupted, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	switch p.Kind {
	case KindTransfer:
		return l.applyTransfer(p, load)
	case KindBurn:
		return l.applyBurn(p, load)
	case KindMint:
		return l.applyMint(p)
	case KindAttest:
		// Ledger records no balance change for Attest; package resolver
		// (C6) is the consumer of Extra (the dark_record bytes).
		return Applied, nil
	default:
		return AppliedFailed, fmt.Errorf("%w: unknown payload kind %d", errs.ErrPolicyViolation, p.Kind)
	}
}

// applyTransfer implements spec.md §4.4's Transfer application rule.
// Callers hold l.mu.
func (l *ledger) applyTransfer(p *Payload, load int) (Outcome, error) {
	from := l.getOrCreate(p.From)
	fee := l.fee(load, l.baseFee, l.maxFee)
	total := new(uint256.Int).Add(p.Amount, uint256.NewInt(fee))

	if from.Balance.Lt(total) {
		from.Nonce = p.Nonce // nonce still consumed to block replay
		l.log.Debug("transfer applied-failed: insufficient balance",
			log.Stringer("from", p.From),
			log.Uint64("nonce", p.Nonce),
		)
		return AppliedFailed, errs.ErrInsufficientBalance
	}

	from.Balance = new(uint256.Int).Sub(from.Balance, total)
	from.Nonce = p.Nonce
	to := l.getOrCreate(p.To)
	to.Balance = new(uint256.Int).Add(to.Balance, p.Amount)
	return Applied, nil
}

// applyBurn implements spec.md §4.4's Burn application rule: balance
// conservation is relaxed (vouchers leave circulation entirely), gated by
// the configured PolicyGate.
func (l *ledger) applyBurn(p *Payload, load int) (Outcome, error) {
	if err := l.policy.AllowBurn(p); err != nil {
		return AppliedFailed, err
	}

	from := l.getOrCreate(p.From)
	fee := l.fee(load, l.baseFee, l.maxFee)
	total := new(uint256.Int).Add(p.Amount, uint256.NewInt(fee))

	if from.Balance.Lt(total) {
		from.Nonce = p.Nonce
		return AppliedFailed, errs.ErrInsufficientBalance
	}

	from.Balance = new(uint256.Int).Sub(from.Balance, total)
	from.Nonce = p.Nonce
	return Applied, nil
}

// applyMint implements spec.md §4.4's Mint application rule: balance
// conservation is relaxed (vouchers enter circulation), gated by the
// configured PolicyGate. Mint carries no nonce to consume — it is not
// issued by the receiving account and so cannot itself be double-spent the
// way a Transfer/Burn can.
func (l *ledger) applyMint(p *Payload) (Outcome, error) {
	if err := l.policy.AllowMint(p); err != nil {
		return AppliedFailed, err
	}
	to := l.getOrCreate(p.To)
	to.Balance = new(uint256.Int).Add(to.Balance, p.Amount)
	return Applied, nil
}

// StateRoot is part of Ledger. It hashes every (id, balance, nonce) triple
// in sorted-id order, the same sorted-key-hash technique used across the
// ecosystem for deterministic state commitments.
func (l *ledger) StateRoot() ids.ID {
	l.mu.Lock()
	defer l.mu.Unlock()

	ordered := make([]ids.ID, 0, len(l.accounts))
	for id := range l.accounts {
		ordered = append(ordered, id)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return bytesLess(ordered[i][:], ordered[j][:])
	})

	buf := make([]byte, 0, len(ordered)*(32+32+8))
	for _, id := range ordered {
		a := l.accounts[id]
		buf = append(buf, id[:]...)
		balanceBytes := a.Balance.Bytes32()
		buf = append(buf, balanceBytes[:]...)
		var nonceBuf [8]byte
		for i := 0; i < 8; i++ {
			nonceBuf[i] = byte(a.Nonce >> (8 * i))
		}
		buf = append(buf, nonceBuf[:]...)
	}
	return ids.ID(fingerprint.Hash(buf))
}

func bytesLess(a, b []byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// TopologicalOrder sorts vertex ids by (Height, ID) so Apply can be called
// in an order that never processes a vertex before its parents, with ties
// broken by lexicographically smaller id, per spec.md §4.4's "ties broken
// by id."
func TopologicalOrder(store dag.Store, vertexIDs []ids.ID) []ids.ID {
	ordered := append([]ids.ID(nil), vertexIDs...)
	sort.Slice(ordered, func(i, j int) bool {
		vi, iok := store.Get(ordered[i])
		vj, jok := store.Get(ordered[j])
		switch {
		case !iok || !jok:
			return iok
		case vi.Height != vj.Height:
			return vi.Height < vj.Height
		default:
			return bytesLess(ordered[i][:], ordered[j][:])
		}
	})
	return ordered
}
