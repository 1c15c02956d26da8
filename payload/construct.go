package payload

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"

	"github.com/bitfsorg/libstamp-go/log"
	"github.com/bitfsorg/libstamp-go/stealth"
	"github.com/bitfsorg/libstamp-go/tx"
	"github.com/bitfsorg/libstamp-go/utxo"
)

// Constructed is an encrypted message ready to broadcast and push.
type Constructed struct {
	Message       *Message
	Bundles       []*tx.Bundle // stamp funding, frozen
	PayloadDigest []byte
}

// ConstructMessage encrypts plain from sourcePriv to destPub and funds
// stampAmount satoshis of stamp outputs keyed on the payload digest.
//
//	salt    = HMAC-SHA256(sha256(plain), sourcePriv)
//	key     = SharedKey(sourcePriv, destPub, salt)
//	payload = Encrypt(key, plain)
//	digest  = sha256(payload)
//	hmac    = PayloadHMAC(key, digest)
//
// Errors after encryption are *ConstructError carrying the digest.
func (c *Codec) ConstructMessage(plain []byte, sourcePriv *ec.PrivateKey, destPub *ec.PublicKey, stampAmount uint64) (*Constructed, error) {
	if sourcePriv == nil || destPub == nil {
		return nil, &ConstructError{Err: fmt.Errorf("%w: keys", ErrNilParam)}
	}
	if len(plain) == 0 {
		return nil, &ConstructError{Err: ErrNoPayload}
	}

	s := salt(plain, sourcePriv)
	sharedKey, err := stealth.SharedKey(sourcePriv, destPub, s)
	if err != nil {
		return nil, &ConstructError{Err: err}
	}
	payload := stealth.Encrypt(sharedKey, plain)
	sum := sha256.Sum256(payload)
	digest := sum[:]

	msg := &Message{
		SourcePublicKey:      sourcePriv.PubKey().Compressed(),
		DestinationPublicKey: destPub.Compressed(),
		PayloadDigest:        digest,
		Scheme:               SchemeEphemeralDH,
		Salt:                 s,
		PayloadHMAC:          stealth.PayloadHMAC(sharedKey, digest),
		PayloadSize:          uint64(len(payload)),
		Payload:              payload,
	}

	var bundles []*tx.Bundle
	if stampAmount > 0 {
		if c.builder == nil {
			return nil, &ConstructError{PayloadDigest: digest, Err: fmt.Errorf("%w: builder", ErrNilParam)}
		}
		hd, err := stealth.StampHDPublicKey(digest, destPub)
		if err != nil {
			return nil, &ConstructError{PayloadDigest: digest, Err: err}
		}
		bundles, err = c.builder.ConstructTransactionSet(stampAmount, hdGenerator(hd))
		if err != nil {
			return nil, &ConstructError{PayloadDigest: digest, Err: err}
		}
		msg.Stamp = &Stamp{Type: StampMessageCommitment, Outpoints: outpointsOf(bundles)}
	}

	log.Codec.Debug().Hex("digest", digest).Int("stamp_txs", len(bundles)).Msg("message constructed")
	return &Constructed{Message: msg, Bundles: bundles, PayloadDigest: digest}, nil
}

// RecoverStamp derives the keys for a received message's stamp outputs.
// Only the destination can do this; priv must be its identity key.
func RecoverStamp(pm *ParsedMessage, priv *ec.PrivateKey, mainnet bool) ([]*utxo.Utxo, error) {
	if pm.Message.Stamp == nil || len(pm.Message.Stamp.Outpoints) == 0 {
		return nil, nil
	}
	if pm.Message.Stamp.Type != StampMessageCommitment {
		return nil, fmt.Errorf("%w: stamp type %d", ErrUnsupportedScheme, pm.Message.Stamp.Type)
	}
	hd, err := stealth.StampHDPrivateKey(pm.Digest, priv)
	if err != nil {
		return nil, err
	}
	return recoverOutputs(pm.Message.Stamp.Outpoints, hd, utxo.TypeStamp, mainnet, ErrStampMismatch)
}

// RecoverStamp recovers stamp outputs with the codec's identity key.
func (c *Codec) RecoverStamp(pm *ParsedMessage) ([]*utxo.Utxo, error) {
	return RecoverStamp(pm, c.identity, c.mainnet)
}

// Identity returns the codec's identity public key.
func (c *Codec) Identity() *ec.PublicKey {
	if c.identity == nil {
		return nil
	}
	return c.identity.PubKey()
}

func hmacSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}
