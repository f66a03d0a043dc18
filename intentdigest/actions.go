package intentdigest

// Action is a single NEAR transaction action as supplied by the host.
// Field presence varies by ActionType; unused fields for a given kind are
// omitted from the digest input entirely (they are absent, not
// zero-valued) so added-but-irrelevant fields never perturb the digest.
type Action struct {
	ActionType string `json:"action_type"`

	// FunctionCall
	MethodName string `json:"method_name,omitempty"`
	Args       string `json:"args,omitempty"`
	Gas        string `json:"gas,omitempty"`
	Deposit    string `json:"deposit,omitempty"`

	// Transfer uses Deposit only.

	// Stake
	Stake     string `json:"stake,omitempty"`
	PublicKey string `json:"public_key,omitempty"`

	// AddKey
	AccessKey interface{} `json:"access_key,omitempty"`

	// DeleteKey uses PublicKey only.

	// DeleteAccount
	BeneficiaryID string `json:"beneficiary_id,omitempty"`

	// DeployContract / DeployGlobalContract
	Code string `json:"code,omitempty"`

	// SignedDelegate
	DelegateAction interface{} `json:"delegate_action,omitempty"`
	Signature      string      `json:"signature,omitempty"`

	// UseGlobalContract
	ContractIdentifier interface{} `json:"contract_identifier,omitempty"`

	// CreateAccount has no extra fields.
}

// TxInput is a single transaction within a signing batch: the receiver and
// its ordered list of actions. Nonces and other per-tx metadata are
// deliberately excluded.
type TxInput struct {
	ReceiverID string   `json:"receiverId"`
	Actions    []Action `json:"actions"`
}

// orderActionForDigest fixes the field order of a single action per its
// kind, by building a map containing only the fields that kind defines —
// CanonicalJSON then alphabetizes those keys deterministically, so the
// kind-specific "order" is really kind-specific field *selection*: two
// actions of the same kind always canonicalize identically regardless of
// how the host populated unused fields.
func orderActionForDigest(a Action) map[string]interface{} {
	out := map[string]interface{}{"action_type": a.ActionType}

	switch a.ActionType {
	case "FunctionCall":
		out["method_name"] = a.MethodName
		out["args"] = a.Args
		out["gas"] = a.Gas
		out["deposit"] = a.Deposit
	case "Transfer":
		out["deposit"] = a.Deposit
	case "Stake":
		out["stake"] = a.Stake
		out["public_key"] = a.PublicKey
	case "AddKey":
		out["public_key"] = a.PublicKey
		out["access_key"] = a.AccessKey
	case "DeleteKey":
		out["public_key"] = a.PublicKey
	case "DeleteAccount":
		out["beneficiary_id"] = a.BeneficiaryID
	case "DeployContract":
		out["code"] = a.Code
	case "SignedDelegate":
		out["delegate_action"] = a.DelegateAction
		out["signature"] = a.Signature
	case "DeployGlobalContract":
		out["code"] = a.Code
	case "UseGlobalContract":
		out["contract_identifier"] = a.ContractIdentifier
	case "CreateAccount":
		// no extra fields
	default:
		// Unknown action kinds still digest deterministically: every field
		// the host supplied is included, alphabetized like everything else.
		return map[string]interface{}{
			"action_type":         a.ActionType,
			"method_name":         a.MethodName,
			"args":                a.Args,
			"gas":                 a.Gas,
			"deposit":             a.Deposit,
			"stake":               a.Stake,
			"public_key":          a.PublicKey,
			"access_key":          a.AccessKey,
			"beneficiary_id":      a.BeneficiaryID,
			"code":                a.Code,
			"delegate_action":     a.DelegateAction,
			"signature":           a.Signature,
			"contract_identifier": a.ContractIdentifier,
		}
	}
	return out
}

func orderTxForDigest(tx TxInput) map[string]interface{} {
	actions := make([]map[string]interface{}, len(tx.Actions))
	for i, a := range tx.Actions {
		actions[i] = orderActionForDigest(a)
	}
	return map[string]interface{}{
		"receiverId": tx.ReceiverID,
		"actions":    actions,
	}
}
