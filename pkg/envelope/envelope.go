// Package envelope はDBのTEXTカラムに格納する構造化データのシリアライズ層を提供する。
//
// 値は {"v":<version>,"data":<payload>} 形式のJSONとして保存する。
// バージョンを持たせることで、カラムの中身の形式を変更した場合でも
// 古い行を判別して読み分けられるようにする。アプリケーション側は
// 生のJSON文字列を扱わず、常に型付きの値でやり取りする。
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
)

// CurrentVersion は新規に書き込むエンベロープのバージョン。
const CurrentVersion = 1

// ErrUnsupportedVersion は未知のバージョンのエンベロープを読み込んだ場合に返される。
var ErrUnsupportedVersion = errors.New("未対応のエンベロープバージョン")

// envelope はカラムに保存されるJSON構造。
type envelope struct {
	// Version はペイロード形式のバージョン。
	Version int `json:"v"`
	// Data は型付きの値をシリアライズしたもの。
	Data json.RawMessage `json:"data"`
}

// Encode は値をバージョン付きJSON文字列にシリアライズする。
func Encode(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("エンベロープのシリアライズに失敗: %w", err)
	}
	b, err := json.Marshal(envelope{Version: CurrentVersion, Data: data})
	if err != nil {
		return "", fmt.Errorf("エンベロープのシリアライズに失敗: %w", err)
	}
	return string(b), nil
}

// MustEncode はEncodeと同じだが、失敗時にパニックする。
// 常にシリアライズ可能な値（スライスやmap[string]string）にのみ使用する。
func MustEncode(v any) string {
	s, err := Encode(v)
	if err != nil {
		panic(err)
	}
	return s
}

// Decode はEncodeで保存した文字列を型Tにデシリアライズする。
// 空文字列はゼロ値として扱う。
func Decode[T any](s string) (T, error) {
	var zero T
	if s == "" {
		return zero, nil
	}

	var env envelope
	if err := json.Unmarshal([]byte(s), &env); err != nil {
		return zero, fmt.Errorf("エンベロープのデシリアライズに失敗: %w", err)
	}
	if env.Version != CurrentVersion {
		return zero, fmt.Errorf("%w: v=%d", ErrUnsupportedVersion, env.Version)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return zero, nil
	}

	var v T
	if err := json.Unmarshal(env.Data, &v); err != nil {
		return zero, fmt.Errorf("エンベロープデータのデシリアライズに失敗: %w", err)
	}
	return v, nil
}
