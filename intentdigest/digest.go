package intentdigest

// ComputeUIIntentDigestFromTxs hashes only {receiverId, actions} per
// transaction, in batch order, excluding nonces and other per-tx metadata.
// Stable under key reordering within an object; sensitive to action
// ordering within a tx and tx ordering within the batch.
func ComputeUIIntentDigestFromTxs(txs []TxInput) (string, error) {
	ordered := make([]map[string]interface{}, len(txs))
	for i, tx := range txs {
		ordered[i] = orderTxForDigest(tx)
	}
	return Digest(ordered)
}

// Nep413Intent is the UI/VRF binding input for a NEP-413 off-chain message
// signature request. This is not the NEP-413 signing hash itself — it
// binds the confirmation UI and VRF challenge to the same intent the
// signer will later sign.
type Nep413Intent struct {
	AccountID string `json:"accountId"`
	Recipient string `json:"recipient"`
	Message   string `json:"message"`
}

// ComputeUIIntentDigestFromNep413 digests a NEP-413 message-signing intent.
func ComputeUIIntentDigestFromNep413(intent Nep413Intent) (string, error) {
	return Digest(map[string]interface{}{
		"domain":    "nep413",
		"accountId": intent.AccountID,
		"recipient": intent.Recipient,
		"message":   intent.Message,
	})
}

// ThresholdEd25519KeygenIntent is the domain-tagged digest input for a
// threshold Ed25519 key-generation ceremony bound to an account.
type ThresholdEd25519KeygenIntent struct {
	AccountID    string `json:"accountId"`
	DeviceNumber int    `json:"deviceNumber"`
}

// ComputeThresholdEd25519KeygenIntentDigest digests a threshold keygen
// intent.
func ComputeThresholdEd25519KeygenIntentDigest(intent ThresholdEd25519KeygenIntent) (string, error) {
	return Digest(map[string]interface{}{
		"domain":       "threshold-ed25519-keygen",
		"accountId":    intent.AccountID,
		"deviceNumber": intent.DeviceNumber,
	})
}

// LoginIntent is the domain-tagged digest input for a login/unlock flow.
type LoginIntent struct {
	AccountID string `json:"accountId"`
	RpID      string `json:"rpId"`
}

// ComputeLoginIntentDigest digests a login/unlock intent.
func ComputeLoginIntentDigest(intent LoginIntent) (string, error) {
	return Digest(map[string]interface{}{
		"domain":    "login",
		"accountId": intent.AccountID,
		"rpId":      intent.RpID,
	})
}
