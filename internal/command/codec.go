package command

import (
	"encoding/json"
	"fmt"
)

// EncodeCommand serializes a command payload for the operation log.
// The envelope's CommandType discriminates on the way back in.
func EncodeCommand(cmd Command) ([]byte, error) {
	return json.Marshal(cmd)
}

// DecodeCommand rebuilds a command from its logged payload. Replay
// feeds these back through the core in log order.
func DecodeCommand(ct CommandType, payload []byte) (Command, error) {
	var cmd Command

	switch ct {
	case CommandTypeLendOrderCreate:
		cmd = &LendOrderCreate{}
	case CommandTypeLendOrderModify:
		cmd = &LendOrderModify{}
	case CommandTypeLendOrderCancel:
		cmd = &LendOrderCancel{}
	case CommandTypeBorrowOrderCreate:
		cmd = &BorrowOrderCreate{}
	case CommandTypeBorrowOrderModify:
		cmd = &BorrowOrderModify{}
	case CommandTypeBorrowOrderCancel:
		cmd = &BorrowOrderCancel{}
	case CommandTypeOrderMatched:
		cmd = &OrderMatched{}
	case CommandTypePriceUpdate:
		cmd = &PriceUpdate{}
	case CommandTypeAssetWhitelist:
		cmd = &AssetWhitelist{}
	case CommandTypePriceFeedRegister:
		cmd = &PriceFeedRegister{}
	case CommandTypeTrustedEntityAdd:
		cmd = &TrustedEntityAdd{}
	case CommandTypeSetWhitelister:
		cmd = &SetWhitelister{}
	default:
		return nil, fmt.Errorf("cannot decode command type %d", ct)
	}

	if err := json.Unmarshal(payload, cmd); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", ct, err)
	}
	return cmd, nil
}
