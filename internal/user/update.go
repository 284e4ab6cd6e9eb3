package user

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/DStukalo/children-server/internal/model"
)

// ParseUpdate はPATCH /meのJSON本文をUserUpdateに変換する。
//
// userName、avatarは文字列またはnull（nullは値の削除）。openCategories、purchasedStagesは
// 数値または数値文字列の配列。未知のキーは無視する。
func ParseUpdate(body []byte) (model.UserUpdate, error) {
	var update model.UserUpdate

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return update, model.NewInvalidRequestError("Invalid JSON body")
	}

	if raw, ok := fields["userName"]; ok {
		value, clear, err := parseNullableString(raw, "userName must be a string or null")
		if err != nil {
			return update, err
		}
		update.UserName, update.ClearUserName = value, clear
	}

	if raw, ok := fields["avatar"]; ok {
		value, clear, err := parseNullableString(raw, "avatar must be a string or null")
		if err != nil {
			return update, err
		}
		update.Avatar, update.ClearAvatar = value, clear
	}

	if raw, ok := fields["openCategories"]; ok {
		values, err := parseNumberArray(raw)
		if err != nil {
			return update, err
		}
		update.OpenCategories = values
	}

	if raw, ok := fields["purchasedStages"]; ok {
		values, err := parseNumberArray(raw)
		if err != nil {
			return update, err
		}
		update.PurchasedStages = values
	}

	return update, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func parseNullableString(raw json.RawMessage, message string) (*string, bool, error) {
	if isNull(raw) {
		return nil, true, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, false, model.NewInvalidRequestError(message)
	}
	return &s, false, nil
}

// parseNumberArray は要素ごとに数値か数値文字列を受け付ける。
// 保存先がINT4[]のため、整数でない値と範囲外の値は拒否する。
func parseNumberArray(raw json.RawMessage) ([]int64, error) {
	var items []json.RawMessage
	if isNull(raw) || json.Unmarshal(raw, &items) != nil {
		return nil, model.NewInvalidRequestError("Expected an array of numbers")
	}

	values := make([]int64, 0, len(items))
	for _, item := range items {
		v, ok := parseNumberItem(item)
		if !ok {
			return nil, model.NewInvalidRequestError("Array values must be numbers")
		}
		values = append(values, v)
	}
	return values, nil
}

func parseNumberItem(item json.RawMessage) (int64, bool) {
	var text string
	if err := json.Unmarshal(item, &text); err == nil {
		text = strings.TrimSpace(text)
	} else {
		var n json.Number
		if err := json.Unmarshal(item, &n); err != nil {
			return 0, false
		}
		text = n.String()
	}
	if text == "" {
		return 0, false
	}

	f, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	if f != math.Trunc(f) || f < math.MinInt32 || f > math.MaxInt32 {
		return 0, false
	}
	return int64(f), true
}
