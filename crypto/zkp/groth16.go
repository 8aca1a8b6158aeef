package zkp

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fp"
)

// ProofSize is the length of a serialized Groth16 proof: A (64 bytes) || B
// (128 bytes) || C (64 bytes). Coordinates are 32-byte big-endian field
// elements; G2 coordinates are encoded imaginary-first, matching the layout
// produced by the proving service.
const ProofSize = 256

var (
	// ErrMalformedProof is returned when the proof bytes do not decode to
	// valid curve points.
	ErrMalformedProof = errors.New("zkp: malformed proof")
	// ErrInputCount is returned when the public input vector does not match
	// the verifying key.
	ErrInputCount = errors.New("zkp: public input count mismatch")
	// ErrInputSize is returned when a public input exceeds 32 bytes.
	ErrInputSize = errors.New("zkp: public input exceeds field size")
)

// Proof holds the three decoded Groth16 proof components.
type Proof struct {
	A bn254.G1Affine
	B bn254.G2Affine
	C bn254.G1Affine
}

// IsZeroProof reports whether the raw proof is the all-zero sentinel used to
// signal "no proof supplied". The sentinel is rejected independently of the
// pairing check.
func IsZeroProof(raw []byte) bool {
	if len(raw) != ProofSize {
		return false
	}
	for _, b := range raw {
		if b != 0 {
			return false
		}
	}
	return true
}

func setFp(dst *fp.Element, raw []byte) error {
	if err := dst.SetBytesCanonical(raw); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedProof, err)
	}
	return nil
}

// ParseProof decodes a 256-byte proof into affine points, rejecting encodings
// that are off-curve or outside the prime-order subgroup.
func ParseProof(raw []byte) (*Proof, error) {
	if len(raw) != ProofSize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrMalformedProof, ProofSize, len(raw))
	}
	p := &Proof{}
	if err := setFp(&p.A.X, raw[0:32]); err != nil {
		return nil, err
	}
	if err := setFp(&p.A.Y, raw[32:64]); err != nil {
		return nil, err
	}
	if err := setFp(&p.B.X.A1, raw[64:96]); err != nil {
		return nil, err
	}
	if err := setFp(&p.B.X.A0, raw[96:128]); err != nil {
		return nil, err
	}
	if err := setFp(&p.B.Y.A1, raw[128:160]); err != nil {
		return nil, err
	}
	if err := setFp(&p.B.Y.A0, raw[160:192]); err != nil {
		return nil, err
	}
	if err := setFp(&p.C.X, raw[192:224]); err != nil {
		return nil, err
	}
	if err := setFp(&p.C.Y, raw[224:256]); err != nil {
		return nil, err
	}
	if !p.A.IsOnCurve() || !p.A.IsInSubGroup() {
		return nil, fmt.Errorf("%w: proof A not in G1", ErrMalformedProof)
	}
	if !p.B.IsOnCurve() || !p.B.IsInSubGroup() {
		return nil, fmt.Errorf("%w: proof B not in G2", ErrMalformedProof)
	}
	if !p.C.IsOnCurve() || !p.C.IsInSubGroup() {
		return nil, fmt.Errorf("%w: proof C not in G1", ErrMalformedProof)
	}
	return p, nil
}

// EncodeProof serializes the proof back to the 256-byte wire layout. It is the
// inverse of ParseProof and is primarily used by tests and tooling.
func EncodeProof(p *Proof) []byte {
	out := make([]byte, ProofSize)
	writeFp := func(dst []byte, el *fp.Element) {
		b := el.Bytes()
		copy(dst, b[:])
	}
	writeFp(out[0:32], &p.A.X)
	writeFp(out[32:64], &p.A.Y)
	writeFp(out[64:96], &p.B.X.A1)
	writeFp(out[96:128], &p.B.X.A0)
	writeFp(out[128:160], &p.B.Y.A1)
	writeFp(out[160:192], &p.B.Y.A0)
	writeFp(out[192:224], &p.C.X)
	writeFp(out[224:256], &p.C.Y)
	return out
}

// VerifyingKey carries the Groth16 verification parameters for one circuit.
type VerifyingKey struct {
	AlphaG1 bn254.G1Affine
	BetaG2  bn254.G2Affine
	GammaG2 bn254.G2Affine
	DeltaG2 bn254.G2Affine
	IC      []bn254.G1Affine
}

// PublicInputs returns the number of public inputs the key expects.
func (vk *VerifyingKey) PublicInputs() int {
	if vk == nil || len(vk.IC) == 0 {
		return 0
	}
	return len(vk.IC) - 1
}

// snarkjsKey mirrors the verification_key.json layout emitted by snarkjs,
// which the proving service produces alongside each circuit.
type snarkjsKey struct {
	Protocol string      `json:"protocol"`
	Curve    string      `json:"curve"`
	NPublic  int         `json:"nPublic"`
	AlphaG1  []string    `json:"vk_alpha_1"`
	BetaG2   [][]string  `json:"vk_beta_2"`
	GammaG2  [][]string  `json:"vk_gamma_2"`
	DeltaG2  [][]string  `json:"vk_delta_2"`
	IC       [][3]string `json:"IC"`
}

func parseFpDecimal(s string) (fp.Element, error) {
	var el fp.Element
	v, ok := new(big.Int).SetString(s, 0)
	if !ok {
		return el, fmt.Errorf("zkp: invalid field element %q", s)
	}
	el.SetBigInt(v)
	return el, nil
}

func parseG1(coords []string) (bn254.G1Affine, error) {
	var point bn254.G1Affine
	if len(coords) < 2 {
		return point, errors.New("zkp: G1 point needs at least two coordinates")
	}
	x, err := parseFpDecimal(coords[0])
	if err != nil {
		return point, err
	}
	y, err := parseFpDecimal(coords[1])
	if err != nil {
		return point, err
	}
	point.X, point.Y = x, y
	if !point.IsInfinity() && (!point.IsOnCurve() || !point.IsInSubGroup()) {
		return point, errors.New("zkp: G1 point not in group")
	}
	return point, nil
}

func parseG2(coords [][]string) (bn254.G2Affine, error) {
	var point bn254.G2Affine
	if len(coords) < 2 || len(coords[0]) < 2 || len(coords[1]) < 2 {
		return point, errors.New("zkp: G2 point needs two coordinate pairs")
	}
	var err error
	if point.X.A0, err = parseFpDecimal(coords[0][0]); err != nil {
		return point, err
	}
	if point.X.A1, err = parseFpDecimal(coords[0][1]); err != nil {
		return point, err
	}
	if point.Y.A0, err = parseFpDecimal(coords[1][0]); err != nil {
		return point, err
	}
	if point.Y.A1, err = parseFpDecimal(coords[1][1]); err != nil {
		return point, err
	}
	if !point.IsInfinity() && (!point.IsOnCurve() || !point.IsInSubGroup()) {
		return point, errors.New("zkp: G2 point not in group")
	}
	return point, nil
}

// ParseVerifyingKey decodes a snarkjs verification_key.json document.
func ParseVerifyingKey(data []byte) (*VerifyingKey, error) {
	var raw snarkjsKey
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("zkp: decode verifying key: %w", err)
	}
	if raw.Protocol != "" && raw.Protocol != "groth16" {
		return nil, fmt.Errorf("zkp: unsupported protocol %q", raw.Protocol)
	}
	if raw.Curve != "" && raw.Curve != "bn128" && raw.Curve != "bn254" {
		return nil, fmt.Errorf("zkp: unsupported curve %q", raw.Curve)
	}
	if len(raw.IC) == 0 {
		return nil, errors.New("zkp: verifying key has no IC points")
	}

	vk := &VerifyingKey{}
	var err error
	if vk.AlphaG1, err = parseG1(raw.AlphaG1); err != nil {
		return nil, err
	}
	if vk.BetaG2, err = parseG2(raw.BetaG2); err != nil {
		return nil, err
	}
	if vk.GammaG2, err = parseG2(raw.GammaG2); err != nil {
		return nil, err
	}
	if vk.DeltaG2, err = parseG2(raw.DeltaG2); err != nil {
		return nil, err
	}
	vk.IC = make([]bn254.G1Affine, 0, len(raw.IC))
	for _, coords := range raw.IC {
		point, err := parseG1(coords[:])
		if err != nil {
			return nil, err
		}
		vk.IC = append(vk.IC, point)
	}
	if raw.NPublic > 0 && raw.NPublic != len(vk.IC)-1 {
		return nil, fmt.Errorf("zkp: nPublic %d does not match %d IC points", raw.NPublic, len(vk.IC))
	}
	return vk, nil
}

// LoadVerifyingKey reads and parses a verification key file.
func LoadVerifyingKey(path string) (*VerifyingKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("zkp: read verifying key: %w", err)
	}
	return ParseVerifyingKey(data)
}

// VerifyProof runs the Groth16 pairing check
//
//	e(A, B) == e(alpha, beta) * e(vk_x, gamma) * e(C, delta)
//
// where vk_x folds the public inputs into the IC points. Inputs are 32-byte
// big-endian scalars.
func (vk *VerifyingKey) VerifyProof(proof *Proof, publicInputs [][]byte) (bool, error) {
	if vk == nil || len(vk.IC) == 0 {
		return false, errors.New("zkp: verifying key not configured")
	}
	if proof == nil {
		return false, ErrMalformedProof
	}
	if len(publicInputs) != len(vk.IC)-1 {
		return false, fmt.Errorf("%w: have %d, want %d", ErrInputCount, len(publicInputs), len(vk.IC)-1)
	}

	var acc bn254.G1Jac
	acc.FromAffine(&vk.IC[0])
	for i, input := range publicInputs {
		if len(input) > 32 {
			return false, ErrInputSize
		}
		scalar := new(big.Int).SetBytes(input)
		var term bn254.G1Affine
		term.ScalarMultiplication(&vk.IC[i+1], scalar)
		acc.AddMixed(&term)
	}
	var vkx bn254.G1Affine
	vkx.FromJacobian(&acc)

	var negA bn254.G1Affine
	negA.Neg(&proof.A)

	return bn254.PairingCheck(
		[]bn254.G1Affine{negA, vk.AlphaG1, vkx, proof.C},
		[]bn254.G2Affine{proof.B, vk.BetaG2, vk.GammaG2, vk.DeltaG2},
	)
}

// Verifier is the pairing-based proof verifier capability consumed by the
// protocol engines. It owns a single circuit's verifying key.
type Verifier struct {
	vk *VerifyingKey
}

// NewVerifier wraps a verifying key as an engine-facing verifier.
func NewVerifier(vk *VerifyingKey) *Verifier {
	return &Verifier{vk: vk}
}

// Verify parses the raw proof and runs the pairing check over the public
// inputs. The all-zero sentinel proof fails parsing because its coordinates do
// not form curve points, so callers that need to distinguish the sentinel
// should test IsZeroProof first.
func (v *Verifier) Verify(raw []byte, publicInputs [][]byte) (bool, error) {
	if v == nil || v.vk == nil {
		return false, errors.New("zkp: verifier not configured")
	}
	proof, err := ParseProof(raw)
	if err != nil {
		return false, err
	}
	return v.vk.VerifyProof(proof, publicInputs)
}
