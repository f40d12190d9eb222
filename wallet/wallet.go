// Package wallet implements a client-side Cashu ecash wallet: it holds
// proofs blind-signed by a mint and mediates mint, melt, swap and
// send/receive operations against it (NUT-00 through NUT-22).
package wallet

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/tyler-smith/go-bip39"

	"github.com/gocashu/wallet/cashu"
	"github.com/gocashu/wallet/cashu/nuts/nut03"
	"github.com/gocashu/wallet/cashu/nuts/nut04"
	"github.com/gocashu/wallet/cashu/nuts/nut05"
	"github.com/gocashu/wallet/cashu/nuts/nut07"
	"github.com/gocashu/wallet/cashu/nuts/nut10"
	"github.com/gocashu/wallet/cashu/nuts/nut11"
	"github.com/gocashu/wallet/cashu/nuts/nut12"
	"github.com/gocashu/wallet/cashu/nuts/nut13"
	"github.com/gocashu/wallet/cashu/nuts/nut14"
	"github.com/gocashu/wallet/cashu/nuts/nut15"
	"github.com/gocashu/wallet/cashu/nuts/nut17"
	"github.com/gocashu/wallet/cashu/nuts/nut18"
	"github.com/gocashu/wallet/cashu/nuts/nut20"
	"github.com/gocashu/wallet/crypto"
	"github.com/gocashu/wallet/internal/obslog"
	"github.com/gocashu/wallet/wallet/client"
	"github.com/gocashu/wallet/wallet/securestore"
	"github.com/gocashu/wallet/wallet/storage"
	"github.com/gocashu/wallet/wallet/submanager"
)

// Config holds the parameters LoadWallet needs to open or create a wallet.
type Config struct {
	WalletPath     string
	CurrentMintURL string
	Unit           cashu.Unit

	// Mnemonic is required the first time a wallet is created at
	// WalletPath; ignored (and may be left empty) on subsequent loads.
	Mnemonic string
	// BIP39Passphrase is the optional BIP39 seed passphrase (default "").
	BIP39Passphrase string
	// EncryptionPassphrase, when set, stores the mnemonic/seed in an
	// AES-256-GCM envelope (see wallet/securestore) instead of the wallet
	// database's plaintext bucket.
	EncryptionPassphrase string

	Logger obslog.Logger
}

// walletMint is everything the wallet actor tracks locally for one mint:
// its known active and inactive keysets.
type walletMint struct {
	mintURL         string
	activeKeyset    crypto.WalletKeyset
	inactiveKeysets map[string]crypto.WalletKeyset
}

// Wallet is a single logical actor: the proof store and counter table are
// bbolt-backed and serialize themselves. The keyset cache (mints) is the one
// piece of in-memory state touched from more than one goroutine (NUT-15
// multi-path melt runs one goroutine per mint), so it's guarded by mintsMu
// and, once LoadWallet has populated it, always accessed through
// getMint/setMint/renameMint rather than directly; everything else assumes single-goroutine use, matching the
// synchronous request/response style of wallet/client.
type Wallet struct {
	db     storage.WalletDB
	secure *securestore.Store

	masterKey *hdkeychain.ExtendedKey
	mnemonic  string
	unit      cashu.Unit

	defaultMint string
	mintsMu     sync.RWMutex
	mints       map[string]walletMint

	log obslog.Logger

	subsMu sync.Mutex
	subs   map[string]*submanager.SubscriptionManager
}

// getMint returns a copy of the cached keyset state for mintURL.
func (w *Wallet) getMint(mintURL string) (walletMint, bool) {
	w.mintsMu.RLock()
	defer w.mintsMu.RUnlock()
	mint, ok := w.mints[mintURL]
	return mint, ok
}

// setMint stores mint under mintURL.
func (w *Wallet) setMint(mintURL string, mint walletMint) {
	w.mintsMu.Lock()
	defer w.mintsMu.Unlock()
	w.mints[mintURL] = mint
}

// renameMint moves the cached keyset state from oldMintURL to newMintURL.
func (w *Wallet) renameMint(oldMintURL, newMintURL string, mint walletMint) {
	w.mintsMu.Lock()
	defer w.mintsMu.Unlock()
	delete(w.mints, oldMintURL)
	w.mints[newMintURL] = mint
}

// InitStorage opens (creating if necessary) the bbolt-backed wallet
// database at path.
func InitStorage(path string) (storage.WalletDB, error) {
	return storage.InitBolt(path)
}

// LoadWallet opens the wallet database at config.WalletPath, creating a new
// wallet (requires config.Mnemonic) if one does not already exist there,
// and registers config.CurrentMintURL as the default mint.
func LoadWallet(config Config) (*Wallet, error) {
	if config.CurrentMintURL == "" {
		return nil, ErrMissingRequiredField
	}
	mintURL, err := url.Parse(config.CurrentMintURL)
	if err != nil || mintURL.Scheme == "" || mintURL.Host == "" {
		return nil, fmt.Errorf("invalid mint url: %v", config.CurrentMintURL)
	}

	db, err := InitStorage(config.WalletPath)
	if err != nil {
		return nil, fmt.Errorf("InitStorage: %v", err)
	}

	log := config.Logger
	if log == nil {
		log = obslog.NewNop()
	}

	wallet := &Wallet{
		db:          db,
		unit:        config.Unit,
		defaultMint: mintURL.String(),
		mints:       make(map[string]walletMint),
		log:         log,
		subs:        make(map[string]*submanager.SubscriptionManager),
	}

	var secure *securestore.Store
	if config.EncryptionPassphrase != "" {
		secure, err = securestore.Open(filepath.Join(config.WalletPath, "secure.db"), config.EncryptionPassphrase)
		if err != nil {
			return nil, fmt.Errorf("opening secure store: %v", err)
		}
		wallet.secure = secure
	}

	mnemonic, seed, err := wallet.loadOrCreateSeed(config.Mnemonic, config.BIP39Passphrase)
	if err != nil {
		return nil, err
	}
	wallet.mnemonic = mnemonic

	masterKey, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("deriving master key: %v", err)
	}
	wallet.masterKey = masterKey

	for mintURL, keysets := range db.GetKeysets() {
		mint := walletMint{mintURL: mintURL, inactiveKeysets: make(map[string]crypto.WalletKeyset)}
		for _, ks := range keysets {
			if ks.Unit != wallet.unit.String() {
				continue
			}
			if ks.Active {
				mint.activeKeyset = ks
			} else {
				mint.inactiveKeysets[ks.Id] = ks
			}
		}
		wallet.mints[mintURL] = mint
	}

	if _, err := wallet.addMint(wallet.defaultMint); err != nil {
		return nil, fmt.Errorf("registering mint '%v': %v", wallet.defaultMint, err)
	}

	return wallet, nil
}

func (w *Wallet) loadOrCreateSeed(mnemonic, passphrase string) (string, []byte, error) {
	if w.secure != nil {
		existing, err := w.secure.LoadMnemonic()
		switch {
		case err == nil:
			seed, err := w.secure.LoadSeed()
			return existing, seed, err
		case errors.Is(err, securestore.ErrNoData):
			if mnemonic == "" {
				return "", nil, ErrNotInitializedWithMnemonic
			}
			if !bip39.IsMnemonicValid(mnemonic) {
				return "", nil, ErrInvalidMnemonic
			}
			seed := bip39.NewSeed(mnemonic, passphrase)
			if err := w.secure.SaveMnemonic(mnemonic); err != nil {
				return "", nil, err
			}
			if err := w.secure.SaveSeed(seed); err != nil {
				return "", nil, err
			}
			return mnemonic, seed, nil
		default:
			return "", nil, err
		}
	}

	if existing := w.db.GetMnemonic(); existing != "" {
		return existing, w.db.GetSeed(), nil
	}

	if mnemonic == "" {
		return "", nil, ErrNotInitializedWithMnemonic
	}
	if !bip39.IsMnemonicValid(mnemonic) {
		return "", nil, ErrInvalidMnemonic
	}
	seed := bip39.NewSeed(mnemonic, passphrase)
	w.db.SaveMnemonicSeed(mnemonic, seed)
	return mnemonic, seed, nil
}

// addMint registers mintURL with the wallet, fetching its active and
// inactive keysets if the mint is not already known.
func (w *Wallet) addMint(mintURL string) (*crypto.WalletKeyset, error) {
	if mint, ok := w.getMint(mintURL); ok && mint.activeKeyset.Id != "" {
		return &mint.activeKeyset, nil
	}

	activeKeyset, err := GetMintActiveKeyset(mintURL, w.unit)
	if err != nil {
		return nil, err
	}
	if err := w.db.SaveKeyset(activeKeyset); err != nil {
		return nil, err
	}

	inactiveKeysets, err := GetMintInactiveKeysets(mintURL, w.unit)
	if err != nil {
		return nil, err
	}
	for id, ks := range inactiveKeysets {
		ks := ks
		if err := w.db.SaveKeyset(&ks); err != nil {
			return nil, err
		}
		inactiveKeysets[id] = ks
	}

	w.setMint(mintURL, walletMint{
		mintURL:         mintURL,
		activeKeyset:    *activeKeyset,
		inactiveKeysets: inactiveKeysets,
	})

	return activeKeyset, nil
}

// UpdateMintURL re-keys every keyset the wallet knows about under
// oldMintURL to newMintURL, in storage and in memory.
func (w *Wallet) UpdateMintURL(oldMintURL, newMintURL string) error {
	mint, ok := w.getMint(oldMintURL)
	if !ok {
		return ErrKeysetNotFound
	}

	if err := w.db.UpdateKeysetMintURL(oldMintURL, newMintURL); err != nil {
		return err
	}

	mint.mintURL = newMintURL
	mint.activeKeyset.MintURL = newMintURL
	for id, ks := range mint.inactiveKeysets {
		ks.MintURL = newMintURL
		mint.inactiveKeysets[id] = ks
	}

	w.renameMint(oldMintURL, newMintURL, mint)

	if w.defaultMint == oldMintURL {
		w.defaultMint = newMintURL
	}

	return nil
}

// Mnemonic returns the wallet's recovery phrase.
func (w *Wallet) Mnemonic() string { return w.mnemonic }

// CurrentMint returns the wallet's default mint URL.
func (w *Wallet) CurrentMint() string { return w.defaultMint }

// Balance returns the total amount of every available proof across every
// known mint.
func (w *Wallet) Balance() uint64 {
	return w.db.GetProofs().Amount()
}

// BalanceByMint returns the total amount of available proofs belonging to
// keysets issued by mintURL.
func (w *Wallet) BalanceByMint(mintURL string) uint64 {
	mint, ok := w.getMint(mintURL)
	if !ok {
		return 0
	}

	var total uint64
	for _, proof := range w.db.GetProofsByKeysetId(mint.activeKeyset.Id) {
		total += proof.Amount
	}
	for id := range mint.inactiveKeysets {
		for _, proof := range w.db.GetProofsByKeysetId(id) {
			total += proof.Amount
		}
	}
	return total
}

// createBlindedMessages derives deterministic (NUT-13) secrets and blinding
// factors for each amount in split under keysetId, starting at *counter,
// and advances *counter past every index it consumes.
func (w *Wallet) createBlindedMessages(split []uint64, keysetId string, counter *uint32) (
	cashu.BlindedMessages, []string, []*secp256k1.PrivateKey, error) {
	keysetPath, err := nut13.DeriveKeysetPath(w.masterKey, keysetId)
	if err != nil {
		return nil, nil, nil, err
	}

	blindedMessages := make(cashu.BlindedMessages, len(split))
	secrets := make([]string, len(split))
	rs := make([]*secp256k1.PrivateKey, len(split))

	for i, amt := range split {
		secret, r, err := generateDeterministicSecret(keysetPath, *counter)
		if err != nil {
			return nil, nil, nil, err
		}

		B_, blindingKey := crypto.BlindMessage([]byte(secret), r.Serialize())
		blindedMessages[i] = cashu.NewBlindedMessage(keysetId, amt, B_)
		secrets[i] = secret
		rs[i] = blindingKey
		*counter++
	}

	return blindedMessages, secrets, rs, nil
}

// createLockedBlindedMessage is createBlindedMessages' counterpart for
// outputs that are not restorable under NUT-13, used for P2PK/HTLC-locked
// send outputs whose secret already encodes the spending condition.
func createLockedBlindedMessage(keysetId string, amount uint64, secret string) (
	cashu.BlindedMessage, *secp256k1.PrivateKey, error) {
	r, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return cashu.BlindedMessage{}, nil, err
	}
	B_, r := crypto.BlindMessage([]byte(secret), r.Serialize())
	return cashu.NewBlindedMessage(keysetId, amount, B_), r, nil
}

// constructProofs unblinds a mint's signatures into proofs. outputs, when
// non-empty, must align index-for-index with signatures and is used to
// verify any attached NUT-12 DLEQ proof before the signature is trusted.
func constructProofs(
	signatures cashu.BlindedSignatures,
	outputs cashu.BlindedMessages,
	secrets []string,
	rs []*secp256k1.PrivateKey,
	keyset *crypto.WalletKeyset,
) (cashu.Proofs, error) {
	if len(signatures) != len(secrets) || len(signatures) != len(rs) {
		return nil, errors.New("number of blinded signatures does not match number of secrets and blinding factors")
	}

	proofs := make(cashu.Proofs, len(signatures))
	for i, sig := range signatures {
		C_bytes, err := hex.DecodeString(sig.C_)
		if err != nil {
			return nil, err
		}
		C_, err := secp256k1.ParsePubKey(C_bytes)
		if err != nil {
			return nil, err
		}

		K, ok := keyset.PublicKeys[sig.Amount]
		if !ok {
			return nil, fmt.Errorf("keyset '%v' has no key for amount %v", keyset.Id, sig.Amount)
		}

		if sig.DLEQ != nil {
			if i >= len(outputs) {
				return nil, errors.New("missing blinded message to verify dleq proof")
			}
			if !nut12.VerifyBlindSignatureDLEQ(*sig.DLEQ, K, outputs[i].B_, sig.C_) {
				return nil, ErrDleqVerificationFailed
			}
		}

		C := crypto.UnblindSignature(C_, rs[i], K)

		proof := cashu.Proof{
			Amount: sig.Amount,
			Id:     sig.Id,
			Secret: secrets[i],
			C:      hex.EncodeToString(C.SerializeCompressed()),
		}
		if sig.DLEQ != nil {
			proof.DLEQ = &cashu.DLEQProof{
				E: sig.DLEQ.E,
				S: sig.DLEQ.S,
				R: hex.EncodeToString(rs[i].Serialize()),
			}
		}

		proofs[i] = proof
	}

	return proofs, nil
}

// RequestMint asks mintURL for a quote to mint amount. When lock is true,
// the quote is locked (NUT-20) to the wallet's P2PK key, so only this
// wallet can redeem it once paid.
func (w *Wallet) RequestMint(mintURL string, amount uint64, lock bool) (*storage.MintQuote, error) {
	req := nut04.PostMintQuoteBolt11Request{Amount: amount, Unit: w.unit.String()}

	var privateKey *secp256k1.PrivateKey
	if lock {
		key, err := DeriveP2PK(w.masterKey)
		if err != nil {
			return nil, err
		}
		privateKey = key
		req.Pubkey = hex.EncodeToString(key.PubKey().SerializeCompressed())
	}

	resp, err := client.PostMintQuoteBolt11(mintURL, req)
	if err != nil {
		return nil, err
	}

	quote := storage.MintQuote{
		QuoteId:        resp.Quote,
		Mint:           mintURL,
		Method:         cashu.BOLT11_METHOD,
		State:          resp.State,
		Unit:           w.unit.String(),
		PaymentRequest: resp.Request,
		Amount:         amount,
		QuoteExpiry:    uint64(resp.Expiry),
		PrivateKey:     privateKey,
	}
	if err := w.db.SaveMintQuote(quote); err != nil {
		return nil, err
	}

	return &quote, nil
}

// MintQuoteState polls the mint for the current state of a mint quote and
// persists it locally.
func (w *Wallet) MintQuoteState(mintURL, quoteId string) (*nut04.PostMintQuoteBolt11Response, error) {
	resp, err := client.GetMintQuoteState(mintURL, quoteId)
	if err != nil {
		return nil, err
	}

	if quote := w.db.GetMintQuoteById(quoteId); quote != nil {
		quote.State = resp.State
		if err := w.db.SaveMintQuote(*quote); err != nil {
			return nil, err
		}
	}

	return resp, nil
}

// MintTokens redeems a paid mint quote for proofs. Outputs are derived from
// the active keyset's NUT-13 counter, which is only advanced once the mint's
// signatures have been unblinded, so calling it again with the same quote
// after a network failure derives the same outputs from the same counter
// range.
func (w *Wallet) MintTokens(mintURL, quoteId string) (cashu.Proofs, error) {
	quote := w.db.GetMintQuoteById(quoteId)
	if quote == nil {
		return nil, ErrQuoteNotFound
	}
	if quote.State == nut04.Issued {
		return nil, ErrInvoiceAlreadyPaid
	}

	state, err := w.MintQuoteState(mintURL, quoteId)
	if err != nil {
		return nil, err
	}
	if state.State == nut04.Unpaid {
		return nil, ErrQuotePending
	}

	activeKeyset, err := w.getActiveKeyset(mintURL)
	if err != nil {
		return nil, err
	}

	counter := w.db.GetKeysetCounter(activeKeyset.Id)
	split := cashu.AmountSplit(quote.Amount)
	blindedMessages, secrets, rs, err := w.createBlindedMessages(split, activeKeyset.Id, &counter)
	if err != nil {
		return nil, err
	}

	mintReq := nut04.PostMintBolt11Request{Quote: quoteId, Outputs: blindedMessages}
	if quote.PrivateKey != nil {
		sig, err := nut20.SignMintQuote(quote.PrivateKey, quoteId, blindedMessages)
		if err != nil {
			return nil, err
		}
		mintReq.Signature = hex.EncodeToString(sig.Serialize())
	}

	mintResp, err := client.PostMintBolt11(mintURL, mintReq)
	if err != nil {
		return nil, err
	}

	proofs, err := constructProofs(mintResp.Signatures, blindedMessages, secrets, rs, activeKeyset)
	if err != nil {
		return nil, err
	}

	if err := w.db.IncrementKeysetCounter(activeKeyset.Id, uint32(len(split))); err != nil {
		return nil, err
	}
	if err := w.db.SaveProofs(proofs); err != nil {
		return nil, err
	}

	quote.State = nut04.Issued
	if err := w.db.SaveMintQuote(*quote); err != nil {
		return nil, err
	}

	return proofs, nil
}

// swap exchanges inputs for newly-blinded outputs derived under keyset,
// returning the resulting proofs in the same order as outputs.
func (w *Wallet) swap(
	mintURL string,
	inputs cashu.Proofs,
	outputs cashu.BlindedMessages,
	secrets []string,
	rs []*secp256k1.PrivateKey,
	keyset *crypto.WalletKeyset,
) (cashu.Proofs, error) {
	resp, err := client.PostSwap(mintURL, nut03.PostSwapRequest{Inputs: inputs, Outputs: outputs})
	if err != nil {
		return nil, err
	}

	return constructProofs(resp.Signatures, outputs, secrets, rs, keyset)
}

// SendOptions configures spending conditions attached to the proofs
// produced by Send.
type SendOptions struct {
	// P2PKPubkey, if set, locks the sent proofs to this compressed hex
	// public key (NUT-11).
	P2PKPubkey string
	// HTLCHash, if set, locks the sent proofs to this sha256 hash
	// (NUT-14); exactly one of P2PKPubkey or HTLCHash may be set.
	HTLCHash string
	// IncludeDLEQ requests DLEQ proofs be carried in the serialized token.
	IncludeDLEQ bool
}

// Send selects amount's worth of proofs from mintURL, swaps them for exact
// denominations (optionally under a spending condition), and returns a
// token ready for out-of-band transfer. The selected proofs are removed
// from the wallet's balance.
func (w *Wallet) Send(mintURL string, amount uint64, opts SendOptions) (cashu.Token, error) {
	if opts.P2PKPubkey != "" && opts.HTLCHash != "" {
		return nil, ErrInvalidProofType
	}

	mint, ok := w.getMint(mintURL)
	if !ok {
		return nil, ErrKeysetNotFound
	}

	available := sortProofsInactiveFirst(w.db.GetProofs(), mint.activeKeyset.Id)
	selected, _, err := selectProofsForAmount(available, amount)
	if err != nil {
		return nil, err
	}

	activeKeyset, err := w.getActiveKeyset(mintURL)
	if err != nil {
		return nil, err
	}

	overshoot := selected.Amount() - amount
	sendSplit := cashu.AmountSplit(amount)
	changeSplit := cashu.AmountSplit(overshoot)

	counter := w.db.GetKeysetCounter(activeKeyset.Id)
	var sendOutputs, changeOutputs cashu.BlindedMessages
	var sendSecrets, changeSecrets []string
	var sendRs, changeRs []*secp256k1.PrivateKey

	if opts.P2PKPubkey != "" || opts.HTLCHash != "" {
		sendOutputs = make(cashu.BlindedMessages, len(sendSplit))
		sendSecrets = make([]string, len(sendSplit))
		sendRs = make([]*secp256k1.PrivateKey, len(sendSplit))
		for i, amt := range sendSplit {
			secret, err := lockedSecret(opts)
			if err != nil {
				return nil, err
			}
			bm, r, err := createLockedBlindedMessage(activeKeyset.Id, amt, secret)
			if err != nil {
				return nil, err
			}
			sendOutputs[i] = bm
			sendSecrets[i] = secret
			sendRs[i] = r
		}
	} else {
		sendOutputs, sendSecrets, sendRs, err = w.createBlindedMessages(sendSplit, activeKeyset.Id, &counter)
		if err != nil {
			return nil, err
		}
	}

	changeOutputs, changeSecrets, changeRs, err = w.createBlindedMessages(changeSplit, activeKeyset.Id, &counter)
	if err != nil {
		return nil, err
	}

	outputs := append(append(cashu.BlindedMessages{}, sendOutputs...), changeOutputs...)
	secrets := append(append([]string{}, sendSecrets...), changeSecrets...)
	rs := append(append([]*secp256k1.PrivateKey{}, sendRs...), changeRs...)
	cashu.SortBlindedMessages(outputs, secrets, rs)

	if err := w.db.AddPendingProofs(selected); err != nil {
		return nil, err
	}
	for _, proof := range selected {
		if err := w.db.DeleteProof(proof.Secret); err != nil {
			return nil, err
		}
	}

	proofs, err := w.swap(mintURL, selected, outputs, secrets, rs, activeKeyset)
	if err != nil {
		w.db.DeletePendingProofs(proofYs(selected))
		if err := w.db.SaveProofs(selected); err != nil {
			w.log.Errorw("failed restoring proofs after failed send swap", "error", err)
		}
		return nil, err
	}

	if err := w.db.IncrementKeysetCounter(activeKeyset.Id, counter-w.db.GetKeysetCounter(activeKeyset.Id)); err != nil {
		return nil, err
	}

	sendSecretSet := make(map[string]bool, len(sendSecrets))
	for _, s := range sendSecrets {
		sendSecretSet[s] = true
	}

	var sendProofs, changeProofs cashu.Proofs
	for _, proof := range proofs {
		if sendSecretSet[proof.Secret] {
			sendProofs = append(sendProofs, proof)
		} else {
			changeProofs = append(changeProofs, proof)
		}
	}

	if err := w.db.SaveProofs(changeProofs); err != nil {
		return nil, err
	}
	if err := w.db.DeletePendingProofs(proofYs(selected)); err != nil {
		return nil, err
	}

	if !opts.IncludeDLEQ {
		for i := range sendProofs {
			sendProofs[i].DLEQ = nil
		}
	}

	token, err := cashu.NewTokenV4(sendProofs, mintURL, w.unit, opts.IncludeDLEQ)
	if err != nil {
		return nil, err
	}
	return token, nil
}

func lockedSecret(opts SendOptions) (string, error) {
	if opts.P2PKPubkey != "" {
		return nut11.P2PKSecret(opts.P2PKPubkey)
	}
	return htlcSecret(opts.HTLCHash)
}

func htlcSecret(hash string) (string, error) {
	nonce, err := crypto.RandomBytes(32)
	if err != nil {
		return "", err
	}
	secretData := nut10.WellKnownSecret{Nonce: hex.EncodeToString(nonce), Data: hash}
	return nut10.SerializeSecret(nut10.HTLC, secretData)
}

// proofYs returns the hex-encoded Y (hash-to-curve point) of each proof's
// secret, the key the pending-proofs bucket is indexed by.
func proofYs(proofs cashu.Proofs) []string {
	ys := make([]string, len(proofs))
	for i, p := range proofs {
		Y := crypto.HashToCurve([]byte(p.Secret))
		ys[i] = hex.EncodeToString(Y.SerializeCompressed())
	}
	return ys
}

// ReceiveOptions supplies the key material needed to satisfy a spending
// condition (NUT-11/NUT-14) on an incoming token.
type ReceiveOptions struct {
	SigningKey *btcec.PrivateKey
	Preimage   string
}

// Receive validates an incoming token, satisfies any spending condition on
// its proofs, and swaps them against their issuing mint for wallet-owned
// proofs. It returns the received amount.
func (w *Wallet) Receive(token cashu.Token, opts ReceiveOptions) (uint64, error) {
	proofs := token.Proofs()
	if len(proofs) == 0 {
		return 0, ErrInvalidTokenStructure
	}
	if cashu.CheckDuplicateProofs(proofs) {
		return 0, ErrInvalidProofSet
	}

	mintURL := token.Mint()
	if _, err := w.addMint(mintURL); err != nil {
		return 0, err
	}

	for i, proof := range proofs {
		kind := nut10.SecretType(proof)
		if kind == nut10.AnyoneCanSpend {
			continue // raw or unlocked secret: nothing to attach
		}
		secret, err := nut10.DeserializeSecret(proof.Secret)
		if err != nil {
			return 0, err
		}

		switch kind {
		case nut10.P2PK:
			if opts.SigningKey == nil {
				return 0, ErrMissingRequiredField
			}
			signed, err := nut11.AddSignatureToInputs(cashu.Proofs{proof}, opts.SigningKey)
			if err != nil {
				return 0, err
			}
			proofs[i] = signed[0]
		case nut10.HTLC:
			if opts.Preimage == "" {
				return 0, ErrInvalidPreimage
			}
			signed, err := nut14.AddWitnessHTLC(cashu.Proofs{proof}, secret, opts.Preimage, opts.SigningKey)
			if err != nil {
				return 0, err
			}
			proofs[i] = signed[0]
		}
	}

	activeKeyset, err := w.getActiveKeyset(mintURL)
	if err != nil {
		return 0, err
	}

	amount := proofs.Amount()
	split := cashu.AmountSplit(amount)
	counter := w.db.GetKeysetCounter(activeKeyset.Id)
	outputs, secrets, rs, err := w.createBlindedMessages(split, activeKeyset.Id, &counter)
	if err != nil {
		return 0, err
	}

	newProofs, err := w.swap(mintURL, proofs, outputs, secrets, rs, activeKeyset)
	if err != nil {
		return 0, err
	}

	if err := w.db.IncrementKeysetCounter(activeKeyset.Id, uint32(len(split))); err != nil {
		return 0, err
	}
	if err := w.db.SaveProofs(newProofs); err != nil {
		return 0, err
	}

	return newProofs.Amount(), nil
}

// PayPaymentRequest fulfills a NUT-18 payment request: it decodes the
// "creq..." string, sends the requested amount from a mint the receiver
// accepts, and delivers the resulting token over the request's preferred
// transport. If the request names no transport, the caller is responsible
// for delivering the returned token out of band (e.g. showing it to the
// receiver directly).
func (w *Wallet) PayPaymentRequest(request string, opts SendOptions) (cashu.Token, error) {
	pr, err := nut18.DecodePaymentRequest(request)
	if err != nil {
		return nil, ErrInvalidPaymentRequest
	}
	if pr.Amount == 0 {
		return nil, ErrMissingRequiredField
	}
	if pr.Unit != "" && pr.Unit != w.unit.String() {
		return nil, ErrInvalidUnit
	}

	mintURL := w.defaultMint
	if len(pr.Mints) > 0 {
		mintURL = pr.Mints[0]
		for _, candidate := range pr.Mints {
			if candidate == w.defaultMint {
				mintURL = w.defaultMint
				break
			}
		}
	}

	token, err := w.Send(mintURL, pr.Amount, opts)
	if err != nil {
		return nil, err
	}

	if err := deliverPaymentRequest(*pr, token); err != nil {
		return nil, err
	}
	return token, nil
}

// deliverPaymentRequest posts the serialized token to the first transport
// of a type this wallet knows how to speak (currently just NUT-18's "post"
// HTTP delivery). A request with no transports is delivered out of band by
// the caller, so that case is not an error.
func deliverPaymentRequest(pr nut18.PaymentRequest, token cashu.Token) error {
	if len(pr.Transports) == 0 {
		return nil
	}

	for _, transport := range pr.Transports {
		if transport.Type != "post" {
			continue
		}
		serialized, err := token.Serialize()
		if err != nil {
			return err
		}
		body, err := json.Marshal(map[string]string{"token": serialized})
		if err != nil {
			return err
		}
		resp, err := http.Post(transport.Target, "application/json", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("delivering payment to %s: %v", transport.Target, err)
		}
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			return fmt.Errorf("payment request receiver returned status %d", resp.StatusCode)
		}
		return nil
	}

	return ErrUnsupportedTransport
}

// RequestMeltQuote asks mintURL for a quote to pay a Lightning invoice.
func (w *Wallet) RequestMeltQuote(mintURL, invoice string, mpp *nut05.MppOption) (*storage.MeltQuote, error) {
	req := nut05.PostMeltQuoteBolt11Request{Request: invoice, Unit: w.unit.String()}
	if mpp != nil {
		supported, err := nut15.IsMppSupported(mintURL, w.unit)
		if err != nil {
			return nil, err
		}
		if !supported {
			return nil, ErrCapabilityNotSupported
		}
		req.Options = map[string]nut05.MppOption{"mpp": *mpp}
	}

	resp, err := client.PostMeltQuoteBolt11(mintURL, req)
	if err != nil {
		return nil, err
	}

	quote := storage.MeltQuote{
		QuoteId:        resp.Quote,
		Mint:           mintURL,
		Method:         cashu.BOLT11_METHOD,
		State:          resp.State,
		Unit:           w.unit.String(),
		PaymentRequest: invoice,
		Amount:         resp.Amount,
		FeeReserve:     resp.FeeReserve,
		QuoteExpiry:    uint64(resp.Expiry),
	}
	if err := w.db.SaveMeltQuote(quote); err != nil {
		return nil, err
	}

	return &quote, nil
}

// MeltTokens pays a melt quote, spending wallet proofs to cover the invoice
// amount plus fee reserve. NUT-08 blank outputs are attached so any unused
// fee reserve returns as change. On ambiguous failure the inputs stay
// pending-spent for later reconciliation via CheckPendingMelt.
func (w *Wallet) MeltTokens(mintURL, quoteId string) (*storage.MeltQuote, error) {
	quote := w.db.GetMeltQuoteById(quoteId)
	if quote == nil {
		return nil, ErrQuoteNotFound
	}

	mint, ok := w.getMint(mintURL)
	if !ok {
		return nil, ErrKeysetNotFound
	}

	amountNeeded := quote.Amount + quote.FeeReserve
	available := sortProofsInactiveFirst(w.db.GetProofs(), mint.activeKeyset.Id)
	selected, _, err := selectProofsForAmount(available, amountNeeded)
	if err != nil {
		return nil, err
	}

	activeKeyset, err := w.getActiveKeyset(mintURL)
	if err != nil {
		return nil, err
	}

	blankCount := blankOutputCount(quote.FeeReserve)
	counter := w.db.GetKeysetCounter(activeKeyset.Id)
	blankSplit := make([]uint64, blankCount)
	var blankOutputs cashu.BlindedMessages
	var blankSecrets []string
	var blankRs []*secp256k1.PrivateKey
	if blankCount > 0 {
		blankOutputs, blankSecrets, blankRs, err = w.createBlindedMessages(blankSplit, activeKeyset.Id, &counter)
		if err != nil {
			return nil, err
		}
	}

	if err := w.db.AddPendingProofsByQuoteId(selected, quoteId); err != nil {
		return nil, err
	}
	for _, proof := range selected {
		if err := w.db.DeleteProof(proof.Secret); err != nil {
			return nil, err
		}
	}

	meltReq := nut05.PostMeltBolt11Request{Quote: quoteId, Inputs: selected, Outputs: blankOutputs}
	resp, err := client.PostMeltBolt11(mintURL, meltReq)
	if err != nil {
		return quote, fmt.Errorf("melt is pending reconciliation: %w", err)
	}

	quote.State = resp.State
	quote.Preimage = resp.Preimage

	switch resp.State {
	case nut05.Paid:
		if err := w.db.DeletePendingProofsByQuoteId(quoteId); err != nil {
			return nil, err
		}
		if len(resp.Change) > 0 {
			changeProofs, err := constructProofs(resp.Change, blankOutputs, blankSecrets, blankRs, activeKeyset)
			if err != nil {
				w.log.Errorw("failed constructing melt change proofs", "error", err)
			} else {
				if err := w.db.IncrementKeysetCounter(activeKeyset.Id, uint32(blankCount)); err != nil {
					return nil, err
				}
				if err := w.db.SaveProofs(changeProofs); err != nil {
					return nil, err
				}
			}
		}
	case nut05.Unpaid:
		if err := w.db.DeletePendingProofsByQuoteId(quoteId); err != nil {
			return nil, err
		}
		if err := w.db.SaveProofs(selected); err != nil {
			return nil, err
		}
	case nut05.Pending:
		// leave pending; reconcile later via CheckPendingMelt
	}

	if err := w.db.SaveMeltQuote(*quote); err != nil {
		return nil, err
	}

	return quote, nil
}

// MeltPlan is one leg of a NUT-15 multi-path melt: amountMsat of the total
// invoice amount to be paid through mintURL.
type MeltPlan struct {
	MintURL    string
	AmountMsat uint64
}

// MeltPlanResult is the outcome of running a single MeltPlan.
type MeltPlanResult struct {
	MintURL string
	Quote   *storage.MeltQuote
	Err     error
}

// MeltMultiPath pays a single Lightning invoice by splitting it across
// plans, one independent melt per mint, each locked to its slice of the
// invoice via NUT-15's options.mpp.amount_msat. Quotes are requested
// up front (sequentially, since a quote also asserts the mint supports
// MPP for the unit), every plan is then marked pending and melted
// concurrently, and the coordinator waits for all of them before
// deciding whether the payment as a whole succeeded.
//
// If any leg doesn't end up Paid, the coordinator compensates by
// reconciling every non-paid leg through CheckPendingMelt so its
// reserved proofs are released or restored, then returns a combined
// error. A Lightning payment that only partially lands across mints
// can't be rolled back once the preimage is released, so "compensate"
// here means reclaiming what can still be reclaimed (pending proofs)
// rather than reversing mints that already paid out.
func (w *Wallet) MeltMultiPath(invoice string, plans []MeltPlan) ([]MeltPlanResult, error) {
	if len(plans) == 0 {
		return nil, ErrNoMeltPlans
	}

	quotes := make([]*storage.MeltQuote, len(plans))
	for i, plan := range plans {
		quote, err := w.RequestMeltQuote(plan.MintURL, invoice, &nut05.MppOption{AmountMsat: plan.AmountMsat})
		if err != nil {
			return nil, fmt.Errorf("requesting mpp quote from %s: %w", plan.MintURL, err)
		}
		quotes[i] = quote
	}

	results := make([]MeltPlanResult, len(plans))
	var wg sync.WaitGroup
	for i, plan := range plans {
		wg.Add(1)
		go func(i int, plan MeltPlan, quoteId string) {
			defer wg.Done()
			quote, err := w.MeltTokens(plan.MintURL, quoteId)
			results[i] = MeltPlanResult{MintURL: plan.MintURL, Quote: quote, Err: err}
		}(i, plan, quotes[i].QuoteId)
	}
	wg.Wait()

	var incomplete bool
	for _, r := range results {
		if r.Err != nil || r.Quote == nil || r.Quote.State != nut05.Paid {
			incomplete = true
			break
		}
	}
	if !incomplete {
		return results, nil
	}

	var combined error
	for i, r := range results {
		if r.Quote == nil {
			combined = errors.Join(combined, fmt.Errorf("%s: %w", r.MintURL, r.Err))
			continue
		}
		if reconciled, err := w.CheckPendingMelt(r.MintURL, r.Quote.QuoteId); err == nil {
			results[i].Quote = reconciled
			results[i].Err = nil
		}
		if results[i].Quote == nil {
			combined = errors.Join(combined, fmt.Errorf("%s: melt did not settle", r.MintURL))
		} else if results[i].Quote.State != nut05.Paid {
			combined = errors.Join(combined, fmt.Errorf("%s: melt ended in state %s", r.MintURL, results[i].Quote.State))
		}
	}

	return results, fmt.Errorf("%w: %v", ErrMultiPathMeltFailed, combined)
}

// CheckPendingMelt polls a pending melt quote and finalizes or rolls back
// its reserved proofs once the mint reaches a terminal state.
func (w *Wallet) CheckPendingMelt(mintURL, quoteId string) (*storage.MeltQuote, error) {
	quote := w.db.GetMeltQuoteById(quoteId)
	if quote == nil {
		return nil, ErrQuoteNotFound
	}

	resp, err := client.GetMeltQuoteState(mintURL, quoteId)
	if err != nil {
		return nil, err
	}
	if resp.State != nut05.Pending {
		quote.State = resp.State
		quote.Preimage = resp.Preimage
		if err := w.db.SaveMeltQuote(*quote); err != nil {
			return nil, err
		}
	}

	return w.reconcileMeltQuote(mintURL, quoteId)
}

func (w *Wallet) reconcileMeltQuote(mintURL, quoteId string) (*storage.MeltQuote, error) {
	pending := w.db.GetPendingProofsByQuoteId(quoteId)
	if len(pending) == 0 {
		return w.db.GetMeltQuoteById(quoteId), nil
	}

	ys := make([]string, len(pending))
	for i, p := range pending {
		ys[i] = p.Y
	}
	stateResp, err := client.PostCheckProofState(mintURL, nut07.PostCheckStateRequest{Ys: ys})
	if err != nil {
		return nil, err
	}

	allSpent := len(stateResp.States) > 0
	for _, s := range stateResp.States {
		if s.State != nut07.Spent {
			allSpent = false
		}
	}

	quote := w.db.GetMeltQuoteById(quoteId)
	if allSpent {
		if quote != nil {
			quote.State = nut05.Paid
			w.db.SaveMeltQuote(*quote)
		}
		w.db.DeletePendingProofsByQuoteId(quoteId)
	} else {
		restored := make(cashu.Proofs, len(pending))
		for i, p := range pending {
			restored[i] = cashu.Proof{Amount: p.Amount, Id: p.Id, Secret: p.Secret, C: p.C, DLEQ: p.DLEQ}
		}
		w.db.SaveProofs(restored)
		w.db.DeletePendingProofsByQuoteId(quoteId)
		if quote != nil {
			quote.State = nut05.Unpaid
			w.db.SaveMeltQuote(*quote)
		}
	}

	return quote, nil
}

// Subscribe opens (or reuses) a NUT-17 websocket subscription to mintURL for
// the given kind and filters (proof Ys, quote ids, etc). The mint must
// advertise NUT-17 support for kind in its info response.
func (w *Wallet) Subscribe(mintURL string, kind nut17.SubscriptionKind, filters []string) (*submanager.Subscription, error) {
	w.subsMu.Lock()
	sm, ok := w.subs[mintURL]
	w.subsMu.Unlock()

	if !ok {
		var err error
		sm, err = submanager.NewSubscriptionManager(mintURL)
		if err != nil {
			return nil, err
		}
		errChannel := make(chan error, 1)
		go sm.Run(errChannel)
		go func() {
			if err := <-errChannel; err != nil {
				w.log.Warnw("subscription manager closed", "mint", mintURL, "error", err)
			}
			w.subsMu.Lock()
			delete(w.subs, mintURL)
			w.subsMu.Unlock()
		}()

		w.subsMu.Lock()
		w.subs[mintURL] = sm
		w.subsMu.Unlock()
	}

	if !sm.IsSubscriptionKindSupported(kind) {
		return nil, submanager.ErrNUT17NotSupported
	}
	return sm.Subscribe(kind, filters)
}

// Close closes every open subscription manager and releases the wallet's
// underlying storage handles.
func (w *Wallet) Close() error {
	w.subsMu.Lock()
	for mintURL, sm := range w.subs {
		if err := sm.Close(); err != nil {
			w.log.Warnw("error closing subscription manager", "mint", mintURL, "error", err)
		}
	}
	w.subsMu.Unlock()

	if w.secure != nil {
		if err := w.secure.Close(); err != nil {
			return err
		}
	}
	return w.db.Close()
}
