package crypto

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
)

// SignPayload вычисляет hex HMAC-SHA512 подпись тела запроса секретом пользователя.
// Для запросов без тела подписывается каноническое "{}".
func SignPayload(secret string, body []byte) string {
	if len(body) == 0 {
		body = []byte("{}")
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature сравнивает подпись с ожидаемой за константное время
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := SignPayload(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
