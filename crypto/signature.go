package crypto

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the size of a single recoverable secp256k1 signature.
const SignatureLength = crypto.SignatureLength

var (
	ErrInvalidSignatureLength = errors.New("crypto: invalid signature length")
	ErrInvalidRecoveryID      = errors.New("crypto: invalid recovery id")
	ErrWalletExists           = errors.New("crypto: wallet already registered")
	ErrInvalidWallet          = errors.New("crypto: invalid wallet definition")
)

// SignatureVerifier reports whether sig authorizes hash on behalf of signer.
type SignatureVerifier interface {
	Verify(signer common.Address, hash common.Hash, sig []byte) bool
}

// RecoverSigner returns the address that produced sig over hash. Both the
// 0/1 and 27/28 recovery id encodings are accepted.
func RecoverSigner(hash common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != SignatureLength {
		return common.Address{}, fmt.Errorf("%w: %d", ErrInvalidSignatureLength, len(sig))
	}
	normalized := append([]byte(nil), sig...)
	v := normalized[crypto.RecoveryIDOffset]
	if v >= 27 {
		v -= 27
	}
	if v > 1 {
		return common.Address{}, ErrInvalidRecoveryID
	}
	normalized[crypto.RecoveryIDOffset] = v
	pub, err := crypto.SigToPub(hash.Bytes(), normalized)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// ECDSAVerifier validates signatures produced directly by a plain key.
type ECDSAVerifier struct{}

// Verify implements SignatureVerifier.
func (ECDSAVerifier) Verify(signer common.Address, hash common.Hash, sig []byte) bool {
	if signer == (common.Address{}) {
		return false
	}
	recovered, err := RecoverSigner(hash, sig)
	if err != nil {
		return false
	}
	return recovered == signer
}

// Wallet is an account whose signature rules are defined by code rather than
// a single key.
type Wallet interface {
	IsValidSignature(hash common.Hash, sig []byte) bool
}

// CodeReader probes whether an address carries wallet code.
type CodeReader interface {
	HasCode(addr common.Address) bool
}

// WalletResolver is a CodeReader that can also load the wallet at an address.
type WalletResolver interface {
	CodeReader
	Wallet(addr common.Address) (Wallet, bool)
}

// MultisigWallet accepts a concatenation of owner signatures meeting the
// threshold. Each owner counts once.
type MultisigWallet struct {
	Owners    []common.Address
	Threshold int
}

// Validate checks the wallet definition.
func (w MultisigWallet) Validate() error {
	if len(w.Owners) == 0 {
		return fmt.Errorf("%w: no owners", ErrInvalidWallet)
	}
	if w.Threshold <= 0 || w.Threshold > len(w.Owners) {
		return fmt.Errorf("%w: threshold %d for %d owners", ErrInvalidWallet, w.Threshold, len(w.Owners))
	}
	seen := make(map[common.Address]struct{}, len(w.Owners))
	for _, owner := range w.Owners {
		if owner == (common.Address{}) {
			return fmt.Errorf("%w: zero owner", ErrInvalidWallet)
		}
		if _, dup := seen[owner]; dup {
			return fmt.Errorf("%w: duplicate owner %s", ErrInvalidWallet, owner.Hex())
		}
		seen[owner] = struct{}{}
	}
	return nil
}

// IsValidSignature implements Wallet.
func (w MultisigWallet) IsValidSignature(hash common.Hash, sig []byte) bool {
	if w.Threshold <= 0 || len(sig) == 0 || len(sig)%SignatureLength != 0 {
		return false
	}
	owners := make(map[common.Address]bool, len(w.Owners))
	for _, owner := range w.Owners {
		owners[owner] = false
	}
	approvals := 0
	for offset := 0; offset < len(sig); offset += SignatureLength {
		signer, err := RecoverSigner(hash, sig[offset:offset+SignatureLength])
		if err != nil {
			return false
		}
		counted, isOwner := owners[signer]
		if !isOwner || counted {
			return false
		}
		owners[signer] = true
		approvals++
	}
	return approvals >= w.Threshold
}

// WalletBook is an in-memory WalletResolver.
type WalletBook struct {
	mu      sync.RWMutex
	wallets map[common.Address]Wallet
}

// NewWalletBook constructs an empty wallet book.
func NewWalletBook() *WalletBook {
	return &WalletBook{wallets: make(map[common.Address]Wallet)}
}

// Register installs wallet code at addr.
func (b *WalletBook) Register(addr common.Address, wallet Wallet) error {
	if addr == (common.Address{}) || wallet == nil {
		return ErrInvalidWallet
	}
	if multisig, ok := wallet.(MultisigWallet); ok {
		if err := multisig.Validate(); err != nil {
			return err
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.wallets[addr]; exists {
		return fmt.Errorf("%w: %s", ErrWalletExists, addr.Hex())
	}
	b.wallets[addr] = wallet
	return nil
}

// HasCode implements CodeReader.
func (b *WalletBook) HasCode(addr common.Address) bool {
	_, ok := b.Wallet(addr)
	return ok
}

// Wallet implements WalletResolver.
func (b *WalletBook) Wallet(addr common.Address) (Wallet, bool) {
	if b == nil {
		return nil, false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	wallet, ok := b.wallets[addr]
	return wallet, ok
}

// ContractWalletVerifier delegates to the wallet deployed at the signer.
type ContractWalletVerifier struct {
	Wallets WalletResolver
}

// Verify implements SignatureVerifier.
func (v ContractWalletVerifier) Verify(signer common.Address, hash common.Hash, sig []byte) bool {
	if v.Wallets == nil {
		return false
	}
	wallet, ok := v.Wallets.Wallet(signer)
	if !ok {
		return false
	}
	return wallet.IsValidSignature(hash, sig)
}

// Verifier picks the contract-wallet strategy when the signer carries code
// and the plain-key strategy otherwise.
type Verifier struct {
	probe  CodeReader
	plain  SignatureVerifier
	wallet SignatureVerifier
}

// NewVerifier wires both strategies over the supplied wallet resolver. A nil
// resolver limits verification to plain keys.
func NewVerifier(wallets WalletResolver) *Verifier {
	v := &Verifier{plain: ECDSAVerifier{}}
	if wallets != nil {
		v.probe = wallets
		v.wallet = ContractWalletVerifier{Wallets: wallets}
	}
	return v
}

// Verify implements SignatureVerifier.
func (v *Verifier) Verify(signer common.Address, hash common.Hash, sig []byte) bool {
	if v == nil {
		return false
	}
	if v.probe != nil && v.wallet != nil && v.probe.HasCode(signer) {
		return v.wallet.Verify(signer, hash, sig)
	}
	return v.plain.Verify(signer, hash, sig)
}
