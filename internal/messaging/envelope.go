package messaging

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "StoryAI/internal/errors"
	"StoryAI/internal/identity"
)

const (
	// EnvelopeVersion 是当前信封格式版本。
	EnvelopeVersion = 1
	// SchemaRequest 标识智能体之间的请求消息。
	SchemaRequest = "story.request.v1"
	// SchemaReply 标识对请求的回复。
	SchemaReply = "story.reply.v1"
)

// Signer 能够以某个智能体地址的名义签名。
type Signer interface {
	Address() string
	Sign(digest []byte) ([]byte, error)
}

// Envelope 是智能体之间传递的签名消息。
type Envelope struct {
	Version   int    `json:"version"`
	Sender    string `json:"sender"`
	Target    string `json:"target"`
	Session   string `json:"session"`
	Schema    string `json:"schema_digest"`
	Payload   string `json:"payload,omitempty"`
	Expires   int64  `json:"expires,omitempty"`
	Nonce     int64  `json:"nonce"`
	Signature string `json:"signature,omitempty"`
}

// NewEnvelope 构造一个尚未签名的信封，ttl 为 0 表示永不过期。
func NewEnvelope(sender, target, schema string, payload Payload, ttl time.Duration) (*Envelope, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode envelope payload")
	}
	now := time.Now()
	env := &Envelope{
		Version: EnvelopeVersion,
		Sender:  sender,
		Target:  target,
		Session: uuid.NewString(),
		Schema:  schema,
		Payload: base64.URLEncoding.EncodeToString(encoded),
		Nonce:   now.UnixNano(),
	}
	if ttl > 0 {
		env.Expires = now.Add(ttl).Unix()
	}
	return env, nil
}

// digest 计算签名覆盖的内容摘要。
func (e *Envelope) digest() []byte {
	var nums [24]byte
	binary.BigEndian.PutUint64(nums[0:8], uint64(e.Version))
	binary.BigEndian.PutUint64(nums[8:16], uint64(e.Expires))
	binary.BigEndian.PutUint64(nums[16:24], uint64(e.Nonce))
	return identity.Digest(
		[]byte(e.Sender), []byte{0},
		[]byte(e.Target), []byte{0},
		[]byte(e.Session), []byte{0},
		[]byte(e.Schema), []byte{0},
		[]byte(e.Payload), []byte{0},
		nums[:],
	)
}

// Seal 以发送方身份签名，发送方地址必须与信封一致。
func (e *Envelope) Seal(signer Signer) error {
	if signer == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "signer is nil")
	}
	if e.Sender != signer.Address() {
		return xerrors.Messagef(xerrors.CodeInvalidArgument, "envelope sender %s does not match signer %s", e.Sender, signer.Address())
	}
	sig, err := signer.Sign(e.digest())
	if err != nil {
		return err
	}
	e.Signature = hex.EncodeToString(sig)
	return nil
}

// Verify 校验签名与有效期。
func (e *Envelope) Verify() error {
	if e.Version != EnvelopeVersion {
		return xerrors.Messagef(xerrors.CodeEnvelopeInvalid, "unsupported envelope version %d", e.Version)
	}
	if e.Sender == "" || e.Target == "" {
		return xerrors.New(xerrors.CodeEnvelopeInvalid, "envelope sender and target are required")
	}
	if e.Expires > 0 && time.Now().Unix() > e.Expires {
		return xerrors.New(xerrors.CodeEnvelopeInvalid, "envelope expired")
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(e.Signature, "0x"))
	if err != nil || len(sig) == 0 {
		return xerrors.New(xerrors.CodeEnvelopeInvalid, "envelope signature missing or malformed")
	}
	return identity.VerifySignature(e.Sender, e.digest(), sig)
}

// DecodePayload 把负载解码到 target。
func (e *Envelope) DecodePayload(target any) error {
	raw, err := base64.URLEncoding.DecodeString(e.Payload)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeEnvelopeInvalid, err, "decode envelope payload")
	}
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return xerrors.Wrap(xerrors.CodeEnvelopeInvalid, err, "unmarshal envelope payload")
	}
	return nil
}

// Message 返回通用的负载。
func (e *Envelope) Message() (Payload, error) {
	var p Payload
	if err := e.DecodePayload(&p); err != nil {
		return nil, err
	}
	if p == nil {
		p = Payload{}
	}
	return p, nil
}

// ParseEnvelope 解析 JSON 格式的信封。
func ParseEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeEnvelopeInvalid, err, "parse envelope")
	}
	return &env, nil
}

// Encode 序列化信封。
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}
