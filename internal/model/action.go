package model

import (
	"encoding/json"

	"github.com/near-indexer/engine/internal/engineerr"
)

// ActionType discriminates the closed set of NEAR action variants
// (spec.md §3).
type ActionType string

const (
	ActionCreateAccount ActionType = "CreateAccount"
	ActionDeployContract ActionType = "DeployContract"
	ActionFunctionCall   ActionType = "FunctionCall"
	ActionTransfer       ActionType = "Transfer"
	ActionStake          ActionType = "Stake"
	ActionAddKey         ActionType = "AddKey"
	ActionDeleteKey      ActionType = "DeleteKey"
	ActionDeleteAccount  ActionType = "DeleteAccount"
)

// ActionPayload is implemented by every per-variant payload shape.
type ActionPayload interface {
	ActionType() ActionType
}

type CreateAccountPayload struct{}

func (CreateAccountPayload) ActionType() ActionType { return ActionCreateAccount }

type DeployContractPayload struct {
	Code []byte `json:"code"`
}

func (DeployContractPayload) ActionType() ActionType { return ActionDeployContract }

type FunctionCallPayload struct {
	MethodName string          `json:"methodName"`
	Args       json.RawMessage `json:"args"`
	Gas        uint64          `json:"gas"`
	Deposit    string          `json:"deposit"`
}

func (FunctionCallPayload) ActionType() ActionType { return ActionFunctionCall }

type TransferPayload struct {
	Deposit string `json:"deposit"`
}

func (TransferPayload) ActionType() ActionType { return ActionTransfer }

type StakePayload struct {
	Stake     string `json:"stake"`
	PublicKey string `json:"publicKey"`
}

func (StakePayload) ActionType() ActionType { return ActionStake }

type AddKeyPayload struct {
	PublicKey string          `json:"publicKey"`
	AccessKey json.RawMessage `json:"accessKey"`
}

func (AddKeyPayload) ActionType() ActionType { return ActionAddKey }

type DeleteKeyPayload struct {
	PublicKey string `json:"publicKey"`
}

func (DeleteKeyPayload) ActionType() ActionType { return ActionDeleteKey }

type DeleteAccountPayload struct {
	BeneficiaryID string `json:"beneficiaryId"`
}

func (DeleteAccountPayload) ActionType() ActionType { return ActionDeleteAccount }

// Action is the unified, decoded action shape carried on a Block, tagged
// with its position within the owning transaction (used as ID) and a
// reference back to that transaction's hash.
type Action struct {
	ID              int           `json:"id"`
	Type            ActionType    `json:"type"`
	Payload         ActionPayload `json:"action"`
	TransactionHash string        `json:"transactionHash"`
}

// DecodeRawAction decodes a single wire action entry (spec.md §4.4). The
// wire shape is either the bare string "CreateAccount" — which decodes to
// the CreateAccount variant with an empty payload — or a single-key object
// whose key names the variant and whose value is that variant's payload.
// Unknown discriminators are rejected with InvalidAction.
func DecodeRawAction(raw json.RawMessage) (ActionType, ActionPayload, error) {
	var bareString string
	if err := json.Unmarshal(raw, &bareString); err == nil {
		if bareString == string(ActionCreateAccount) {
			return ActionCreateAccount, CreateAccountPayload{}, nil
		}
		return "", nil, engineerr.NewInvalidAction(bareString)
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", nil, engineerr.NewInvalidAction(string(raw))
	}
	if len(obj) != 1 {
		return "", nil, engineerr.NewInvalidAction(string(raw))
	}

	var discriminator string
	var payloadRaw json.RawMessage
	for k, v := range obj {
		discriminator = k
		payloadRaw = v
	}

	switch ActionType(discriminator) {
	case ActionCreateAccount:
		return ActionCreateAccount, CreateAccountPayload{}, nil
	case ActionDeployContract:
		var p DeployContractPayload
		if err := json.Unmarshal(payloadRaw, &p); err != nil {
			return "", nil, engineerr.NewInvalidAction(discriminator)
		}
		return ActionDeployContract, p, nil
	case ActionFunctionCall:
		var p FunctionCallPayload
		if err := json.Unmarshal(payloadRaw, &p); err != nil {
			return "", nil, engineerr.NewInvalidAction(discriminator)
		}
		return ActionFunctionCall, p, nil
	case ActionTransfer:
		var p TransferPayload
		if err := json.Unmarshal(payloadRaw, &p); err != nil {
			return "", nil, engineerr.NewInvalidAction(discriminator)
		}
		return ActionTransfer, p, nil
	case ActionStake:
		var p StakePayload
		if err := json.Unmarshal(payloadRaw, &p); err != nil {
			return "", nil, engineerr.NewInvalidAction(discriminator)
		}
		return ActionStake, p, nil
	case ActionAddKey:
		var p AddKeyPayload
		if err := json.Unmarshal(payloadRaw, &p); err != nil {
			return "", nil, engineerr.NewInvalidAction(discriminator)
		}
		return ActionAddKey, p, nil
	case ActionDeleteKey:
		var p DeleteKeyPayload
		if err := json.Unmarshal(payloadRaw, &p); err != nil {
			return "", nil, engineerr.NewInvalidAction(discriminator)
		}
		return ActionDeleteKey, p, nil
	case ActionDeleteAccount:
		var p DeleteAccountPayload
		if err := json.Unmarshal(payloadRaw, &p); err != nil {
			return "", nil, engineerr.NewInvalidAction(discriminator)
		}
		return ActionDeleteAccount, p, nil
	default:
		return "", nil, engineerr.NewInvalidAction(discriminator)
	}
}

// EncodeRawAction re-encodes a decoded variant back into the object wire
// shape ({Type: payload}); CreateAccount always round-trips through the
// object form here (the bare-string form is also accepted on decode, per
// spec.md §8, but is not this function's chosen output shape).
func EncodeRawAction(t ActionType, payload ActionPayload) (json.RawMessage, error) {
	inner, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]json.RawMessage{string(t): inner})
}
