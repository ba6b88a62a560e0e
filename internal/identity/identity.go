package identity

import (
	"crypto/ecdsa"
	"encoding/binary"
	"encoding/hex"
	"math/rand/v2"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	xerrors "StoryAI/internal/errors"
)

// AddressPrefix 是智能体地址的固定前缀。
const AddressPrefix = "agent"

// Identity 是由种子短语派生出的智能体身份。
type Identity struct {
	name    string
	index   uint32
	key     *ecdsa.PrivateKey
	address string
}

// Derive 根据种子短语与序号确定性地派生身份，相同输入总是得到相同地址。
func Derive(name, seed string, index uint32) (*Identity, error) {
	if strings.TrimSpace(seed) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "seed phrase is empty")
	}
	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], index)
	material := crypto.Keccak256([]byte(seed), idx[:])

	key, err := crypto.ToECDSA(material)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "derive agent key")
	}
	return &Identity{
		name:    name,
		index:   index,
		key:     key,
		address: AddressFromPublicKey(&key.PublicKey),
	}, nil
}

// AddressFromPublicKey 把公钥转换为 agent 前缀的地址。
func AddressFromPublicKey(pub *ecdsa.PublicKey) string {
	addr := crypto.PubkeyToAddress(*pub)
	return AddressPrefix + hex.EncodeToString(addr.Bytes())
}

// Name 返回身份所属的智能体名称。
func (i *Identity) Name() string { return i.name }

// Index 返回派生序号。
func (i *Identity) Index() uint32 { return i.index }

// Address 返回智能体地址。
func (i *Identity) Address() string { return i.address }

// Sign 对 32 字节摘要签名，返回 65 字节的可恢复签名。
func (i *Identity) Sign(digest []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, xerrors.Messagef(xerrors.CodeInvalidArgument, "digest must be 32 bytes, got %d", len(digest))
	}
	sig, err := crypto.Sign(digest, i.key)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "sign digest")
	}
	return sig, nil
}

// Digest 计算消息的 Keccak256 摘要。
func Digest(parts ...[]byte) []byte {
	return crypto.Keccak256(parts...)
}

// VerifySignature 校验签名是否由指定地址产生。
func VerifySignature(address string, digest, sig []byte) error {
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeEnvelopeInvalid, err, "recover signer")
	}
	if signer := AddressFromPublicKey(pub); !strings.EqualFold(signer, address) {
		return xerrors.Messagef(xerrors.CodeEnvelopeInvalid, "signature belongs to %s, not %s", signer, address)
	}
	return nil
}

const idAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandomID 生成由字母与数字组成的随机标识。
func RandomID(n int) string {
	if n <= 0 {
		n = 10
	}
	var b strings.Builder
	b.Grow(n)
	for range n {
		b.WriteByte(idAlphabet[rand.IntN(len(idAlphabet))])
	}
	return b.String()
}
