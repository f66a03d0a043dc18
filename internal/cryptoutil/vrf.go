package cryptoutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"math/big"
)

// ECVRF-P256-SHA256-TAI (RFC 9381), used to generate and verify the
// {vrfInput, vrfOutput, vrfProof, vrfPublicKey} confirmation challenge.

var (
	vrfSuiteString = []byte{0x01}
	p256           = elliptic.P256()
)

// VRFKeypair is a VRF signing keypair. SecretKey is zeroed by the caller
// once it is no longer needed in plaintext.
type VRFKeypair struct {
	SecretKey *ecdsa.PrivateKey
	PublicKey *ecdsa.PublicKey
}

// VRFProof is the proof component of a VRF evaluation: Gamma point plus
// the (c, s) Schnorr-style response.
type VRFProof struct {
	GammaX, GammaY *big.Int
	C, S           *big.Int
}

// GenerateVRFKeypair creates a fresh P-256 VRF keypair.
func GenerateVRFKeypair() (*VRFKeypair, error) {
	priv, err := ecdsa.GenerateKey(p256, rand.Reader)
	if err != nil {
		return nil, err
	}
	return &VRFKeypair{SecretKey: priv, PublicKey: &priv.PublicKey}, nil
}

// VRFKeypairFromSeed derives a deterministic P-256 VRF keypair from a
// 32-byte seed (vrfsession.Manager.DeriveVRFKeypairFromPRF derives it from
// PRF.first with HKDF), so registration and recovery from the same passkey
// always yield the same VRF identity.
func VRFKeypairFromSeed(seed []byte) (*VRFKeypair, error) {
	n := p256.Params().N
	d := new(big.Int).SetBytes(seed)
	d.Mod(d, new(big.Int).Sub(n, big.NewInt(1)))
	d.Add(d, big.NewInt(1))

	priv := new(ecdsa.PrivateKey)
	priv.PublicKey.Curve = p256
	priv.D = d
	priv.PublicKey.X, priv.PublicKey.Y = p256.ScalarBaseMult(d.Bytes())

	return &VRFKeypair{SecretKey: priv, PublicKey: &priv.PublicKey}, nil
}

// GenerateVRFProof evaluates the VRF over alpha, returning the 32-byte
// output beta and its proof.
func GenerateVRFProof(secretKey *ecdsa.PrivateKey, alpha []byte) (beta []byte, proof *VRFProof, err error) {
	if secretKey == nil {
		return nil, nil, errors.New("cryptoutil: vrf secret key is nil")
	}
	if secretKey.Curve != p256 {
		return nil, nil, errors.New("cryptoutil: only P-256 is supported for VRF")
	}

	hX, hY, err := hashToCurveP256(alpha, &secretKey.PublicKey)
	if err != nil {
		return nil, nil, err
	}

	gammaX, gammaY := p256.ScalarMult(hX, hY, secretKey.D.Bytes())

	k := deterministicNonce(secretKey, hX, hY)

	uX, uY := p256.ScalarBaseMult(k.Bytes())
	vX, vY := p256.ScalarMult(hX, hY, k.Bytes())

	c := vrfChallenge(&secretKey.PublicKey, hX, hY, gammaX, gammaY, uX, uY, vX, vY)

	n := p256.Params().N
	cx := new(big.Int).Mul(c, secretKey.D)
	cx.Mod(cx, n)
	s := new(big.Int).Add(k, cx)
	s.Mod(s, n)

	beta = vrfProofToHash(gammaX, gammaY)
	proof = &VRFProof{GammaX: gammaX, GammaY: gammaY, C: c, S: s}
	return beta, proof, nil
}

// VerifyVRFProof checks proof against alpha and publicKey, returning the
// recomputed beta on success.
func VerifyVRFProof(publicKey *ecdsa.PublicKey, alpha []byte, proof *VRFProof) ([]byte, bool) {
	if publicKey == nil || proof == nil || publicKey.Curve != p256 {
		return nil, false
	}
	if !p256.IsOnCurve(proof.GammaX, proof.GammaY) {
		return nil, false
	}

	hX, hY, err := hashToCurveP256(alpha, publicKey)
	if err != nil {
		return nil, false
	}

	n := p256.Params().N
	negC := new(big.Int).Neg(proof.C)
	negC.Mod(negC, n)

	sGx, sGy := p256.ScalarBaseMult(proof.S.Bytes())
	cYx, cYy := p256.ScalarMult(publicKey.X, publicKey.Y, negC.Bytes())
	uX, uY := p256.Add(sGx, sGy, cYx, cYy)

	sHx, sHy := p256.ScalarMult(hX, hY, proof.S.Bytes())
	cGammaX, cGammaY := p256.ScalarMult(proof.GammaX, proof.GammaY, negC.Bytes())
	vX, vY := p256.Add(sHx, sHy, cGammaX, cGammaY)

	cPrime := vrfChallenge(publicKey, hX, hY, proof.GammaX, proof.GammaY, uX, uY, vX, vY)
	if proof.C.Cmp(cPrime) != 0 {
		return nil, false
	}

	return vrfProofToHash(proof.GammaX, proof.GammaY), true
}

// SerializeVRFProof encodes proof as Gamma(33) || c(32) || s(32) = 97 bytes.
func SerializeVRFProof(proof *VRFProof) []byte {
	if proof == nil {
		return nil
	}
	out := make([]byte, 97)
	copy(out[0:33], elliptic.MarshalCompressed(p256, proof.GammaX, proof.GammaY))
	cBytes := proof.C.Bytes()
	copy(out[33+(32-len(cBytes)):65], cBytes)
	sBytes := proof.S.Bytes()
	copy(out[65+(32-len(sBytes)):97], sBytes)
	return out
}

// DeserializeVRFProof decodes the 97-byte wire form produced by
// SerializeVRFProof.
func DeserializeVRFProof(data []byte) (*VRFProof, error) {
	if len(data) != 97 {
		return nil, errors.New("cryptoutil: invalid vrf proof length")
	}
	gammaX, gammaY := elliptic.UnmarshalCompressed(p256, data[0:33])
	if gammaX == nil {
		return nil, errors.New("cryptoutil: invalid vrf gamma point")
	}
	return &VRFProof{
		GammaX: gammaX,
		GammaY: gammaY,
		C:      new(big.Int).SetBytes(data[33:65]),
		S:      new(big.Int).SetBytes(data[65:97]),
	}, nil
}

// MarshalPublicKey returns the compressed SEC1 encoding of a VRF public key.
func MarshalPublicKey(pub *ecdsa.PublicKey) []byte {
	return elliptic.MarshalCompressed(p256, pub.X, pub.Y)
}

// UnmarshalPublicKey parses a compressed SEC1-encoded VRF public key.
func UnmarshalPublicKey(data []byte) (*ecdsa.PublicKey, error) {
	x, y := elliptic.UnmarshalCompressed(p256, data)
	if x == nil {
		return nil, errors.New("cryptoutil: invalid vrf public key")
	}
	return &ecdsa.PublicKey{Curve: p256, X: x, Y: y}, nil
}

func hashToCurveP256(alpha []byte, publicKey *ecdsa.PublicKey) (x, y *big.Int, err error) {
	params := p256.Params()
	pkBytes := elliptic.MarshalCompressed(p256, publicKey.X, publicKey.Y)

	for ctr := byte(0); ctr < 255; ctr++ {
		h := sha256.New()
		h.Write(vrfSuiteString)
		h.Write([]byte{0x01})
		h.Write(pkBytes)
		h.Write(alpha)
		h.Write([]byte{ctr})
		hashValue := h.Sum(nil)

		xCandidate := new(big.Int).SetBytes(hashValue)
		xCandidate.Mod(xCandidate, params.P)

		yCandidate := yFromX(xCandidate)
		if yCandidate == nil {
			continue
		}
		if yCandidate.Bit(0) == 1 {
			yCandidate.Sub(params.P, yCandidate)
		}
		if p256.IsOnCurve(xCandidate, yCandidate) {
			return xCandidate, yCandidate, nil
		}
	}

	return nil, nil, errors.New("cryptoutil: hash-to-curve exhausted counters")
}

func yFromX(x *big.Int) *big.Int {
	params := p256.Params()
	p := params.P

	x3 := new(big.Int).Mul(x, x)
	x3.Mul(x3, x)
	x3.Mod(x3, p)

	threeX := new(big.Int).Mul(big.NewInt(3), x)
	threeX.Mod(threeX, p)

	y2 := new(big.Int).Sub(x3, threeX)
	y2.Mod(y2, p)
	if y2.Sign() < 0 {
		y2.Add(y2, p)
	}
	y2.Add(y2, params.B)
	y2.Mod(y2, p)

	exp := new(big.Int).Add(p, big.NewInt(1))
	exp.Div(exp, big.NewInt(4))
	y := new(big.Int).Exp(y2, exp, p)

	ySquared := new(big.Int).Mul(y, y)
	ySquared.Mod(ySquared, p)
	if ySquared.Cmp(y2) != 0 {
		return nil
	}
	return y
}

func deterministicNonce(secretKey *ecdsa.PrivateKey, hX, hY *big.Int) *big.Int {
	n := p256.Params().N

	h := hmac.New(sha256.New, secretKey.D.Bytes())
	h.Write(hX.Bytes())
	h.Write(hY.Bytes())
	kBytes := h.Sum(nil)

	k := new(big.Int).SetBytes(kBytes)
	k.Mod(k, n)
	if k.Sign() == 0 {
		k.SetInt64(1)
	}
	return k
}

func vrfChallenge(publicKey *ecdsa.PublicKey, hX, hY, gammaX, gammaY, uX, uY, vX, vY *big.Int) *big.Int {
	n := p256.Params().N

	h := sha256.New()
	h.Write(vrfSuiteString)
	h.Write([]byte{0x02})
	h.Write(elliptic.MarshalCompressed(p256, publicKey.X, publicKey.Y))
	h.Write(elliptic.MarshalCompressed(p256, hX, hY))
	h.Write(elliptic.MarshalCompressed(p256, gammaX, gammaY))
	h.Write(elliptic.MarshalCompressed(p256, uX, uY))
	h.Write(elliptic.MarshalCompressed(p256, vX, vY))

	hashValue := h.Sum(nil)
	c := new(big.Int).SetBytes(hashValue[:16])
	c.Mod(c, n)
	return c
}

func vrfProofToHash(gammaX, gammaY *big.Int) []byte {
	h := sha256.New()
	h.Write(vrfSuiteString)
	h.Write([]byte{0x03})
	h.Write(elliptic.MarshalCompressed(p256, gammaX, gammaY))
	return h.Sum(nil)
}
