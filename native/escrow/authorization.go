package escrow

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"workescrow/crypto"
)

// Authorization is an admin-signed permit for a deposit or a submit. The
// signature covers the EIP-191 text hash of the request digest.
type Authorization struct {
	Signer     common.Address
	Expiration uint64
	Signature  []byte
}

// SignatureVerifier validates a signature for a plain key or wallet signer.
type SignatureVerifier interface {
	Verify(signer common.Address, hash common.Hash, sig []byte) bool
}

var (
	depositDomain = []byte("workescrow.deposit.v1")
	submitDomain  = []byte("workescrow.submit.v1")
)

func appendWord(buf []byte, v *big.Int) []byte {
	word, overflow := uint256.FromBig(cloneBigInt(v))
	if overflow {
		word = new(uint256.Int).SetAllOne()
	}
	b := word.Bytes32()
	return append(buf, b[:]...)
}

// DepositDigest is the message an admin signs to permit a deposit. startIndex
// is the unit count of the contract before the call, which keeps a permit
// from being replayed against a grown milestone contract.
func DepositDigest(instance, client common.Address, req DepositRequest, startIndex uint64) common.Hash {
	buf := append([]byte(nil), depositDomain...)
	buf = append(buf, instance.Bytes()...)
	buf = append(buf, client.Bytes()...)
	buf = binary.BigEndian.AppendUint64(buf, req.ContractID)
	buf = binary.BigEndian.AppendUint64(buf, startIndex)
	buf = append(buf, req.Token.Bytes()...)
	for _, unit := range req.Units {
		buf = append(buf, unit.Contractor.Bytes()...)
		buf = appendWord(buf, unit.Amount)
		buf = append(buf, byte(unit.FeeConfig))
		buf = append(buf, unit.ContractorDataHash.Bytes()...)
	}
	buf = binary.BigEndian.AppendUint64(buf, req.Authorization.Expiration)
	return common.BytesToHash(ethcrypto.Keccak256(buf))
}

// SubmitDigest is the message an admin signs to permit a contractor submit.
func SubmitDigest(instance, contractor common.Address, contractID, unitID uint64, dataHash common.Hash, expiration uint64) common.Hash {
	buf := append([]byte(nil), submitDomain...)
	buf = append(buf, instance.Bytes()...)
	buf = append(buf, contractor.Bytes()...)
	buf = binary.BigEndian.AppendUint64(buf, contractID)
	buf = binary.BigEndian.AppendUint64(buf, unitID)
	buf = append(buf, dataHash.Bytes()...)
	buf = binary.BigEndian.AppendUint64(buf, expiration)
	return common.BytesToHash(ethcrypto.Keccak256(buf))
}

// ContractorCommitment binds off-chain work data to a contractor. The result
// is stored as the unit's ContractorDataHash at funding time.
func ContractorCommitment(contractor common.Address, data, salt []byte) common.Hash {
	return ethcrypto.Keccak256Hash(contractor.Bytes(), data, salt)
}

// SignDigest produces an Authorization over digest with key.
func SignDigest(key *crypto.PrivateKey, digest common.Hash, expiration uint64) (Authorization, error) {
	sig, err := key.SignMessage(digest.Bytes())
	if err != nil {
		return Authorization{}, err
	}
	return Authorization{Signer: key.Address(), Expiration: expiration, Signature: sig}, nil
}

func (e *Engine) verifyAuthorization(auth Authorization, digest common.Hash) error {
	if e.verifier == nil {
		return errNilVerifier
	}
	if uint64(e.now()) > auth.Expiration {
		return fmt.Errorf("%w: expired at %d", ErrAuthorizationExpired, auth.Expiration)
	}
	if auth.Signer == (common.Address{}) || !e.admins.HasAdminRole(auth.Signer) {
		return fmt.Errorf("%w: signer %s is not an admin", ErrInvalidSignature, auth.Signer.Hex())
	}
	if !e.verifier.Verify(auth.Signer, crypto.TextHash(digest.Bytes()), auth.Signature) {
		return ErrInvalidSignature
	}
	return nil
}
