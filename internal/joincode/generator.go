// Package joincode は登録用の招待コードの生成・発行・検証を提供する。
package joincode

import "math/rand/v2"

// DefaultLength は招待コードのデフォルト長。
const DefaultLength = 6

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Generate は英大文字・英小文字・数字からなるlength文字のコードを生成する。
// 暗号学的な乱数ではない。衝突は保存時の主キー制約で検出する。
func Generate(length int) string {
	if length <= 0 {
		return ""
	}
	b := make([]byte, length)
	for i := range b {
		b[i] = alphabet[rand.IntN(len(alphabet))]
	}
	return string(b)
}
