package safety

import "golang.org/x/crypto/bcrypt"

// CredentialVerifier 口令校验接口。哈希方案由实现决定，
// 引擎只关心 校验通过/不通过。
type CredentialVerifier interface {
	Verify(raw, hash, salt, pepper string) bool
}

// BcryptVerifier 默认实现：bcrypt(salt + raw + pepper)
type BcryptVerifier struct{}

func (BcryptVerifier) Verify(raw, hash, salt, pepper string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(salt+raw+pepper)) == nil
}

// HashCredential 生成口令哈希，档案创建时使用
func HashCredential(raw, salt, pepper string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(salt+raw+pepper), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
