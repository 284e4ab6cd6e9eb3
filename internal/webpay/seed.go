package webpay

import (
	"fmt"

	"github.com/jaevor/go-nanoid"
)

// seedLength は署名シードの文字数。
const seedLength = 32

// NewSeedGenerator は決済ごとの署名シードを生成する関数を返す。
func NewSeedGenerator() (func() string, error) {
	gen, err := nanoid.Standard(seedLength)
	if err != nil {
		return nil, fmt.Errorf("failed to create seed generator: %w", err)
	}
	return gen, nil
}
