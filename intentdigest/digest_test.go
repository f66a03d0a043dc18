package intentdigest

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalJSONAlphabetizesKeysAtEveryDepth(t *testing.T) {
	a, err := CanonicalJSON(map[string]interface{}{
		"b": 1,
		"a": map[string]interface{}{"z": 1, "y": 2},
	})
	require.NoError(t, err)

	b, err := CanonicalJSON(map[string]interface{}{
		"a": map[string]interface{}{"y": 2, "z": 1},
		"b": 1,
	})
	require.NoError(t, err)

	require.Equal(t, string(a), string(b))
}

func TestCanonicalJSONPreservesArrayOrder(t *testing.T) {
	a, err := CanonicalJSON([]interface{}{1, 2, 3})
	require.NoError(t, err)

	b, err := CanonicalJSON([]interface{}{3, 2, 1})
	require.NoError(t, err)

	require.NotEqual(t, string(a), string(b))
}

func TestComputeUIIntentDigestFromTxsStableUnderKeyReorder(t *testing.T) {
	tx := TxInput{
		ReceiverID: "a.near",
		Actions: []Action{
			{ActionType: "Transfer", Deposit: "1"},
		},
	}

	d1, err := ComputeUIIntentDigestFromTxs([]TxInput{tx})
	require.NoError(t, err)
	// The same transaction as raw JSON with every object's keys reordered.
	d2, err := Digest(json.RawMessage(`[{"actions":[{"deposit":"1","action_type":"Transfer"}],"receiverId":"a.near"}]`))
	require.NoError(t, err)

	require.Equal(t, d1, d2)
	require.NotEmpty(t, d1)
}

func TestComputeUIIntentDigestFromTxsSensitiveToActionOrder(t *testing.T) {
	tx1 := TxInput{
		ReceiverID: "a.near",
		Actions: []Action{
			{ActionType: "Transfer", Deposit: "1"},
			{ActionType: "FunctionCall", MethodName: "ping", Args: "{}", Gas: "30", Deposit: "0"},
		},
	}
	tx2 := TxInput{
		ReceiverID: "a.near",
		Actions: []Action{
			{ActionType: "FunctionCall", MethodName: "ping", Args: "{}", Gas: "30", Deposit: "0"},
			{ActionType: "Transfer", Deposit: "1"},
		},
	}

	d1, err := ComputeUIIntentDigestFromTxs([]TxInput{tx1})
	require.NoError(t, err)
	d2, err := ComputeUIIntentDigestFromTxs([]TxInput{tx2})
	require.NoError(t, err)

	require.NotEqual(t, d1, d2)
}

func TestComputeUIIntentDigestFromTxsSensitiveToTxOrder(t *testing.T) {
	tx1 := TxInput{ReceiverID: "a.near", Actions: []Action{{ActionType: "Transfer", Deposit: "1"}}}
	tx2 := TxInput{ReceiverID: "b.near", Actions: []Action{{ActionType: "Transfer", Deposit: "2"}}}

	d1, err := ComputeUIIntentDigestFromTxs([]TxInput{tx1, tx2})
	require.NoError(t, err)
	d2, err := ComputeUIIntentDigestFromTxs([]TxInput{tx2, tx1})
	require.NoError(t, err)

	require.NotEqual(t, d1, d2)
}

func TestComputeUIIntentDigestFromTxsExcludesUnrelatedActionFields(t *testing.T) {
	tx1 := TxInput{ReceiverID: "a.near", Actions: []Action{{ActionType: "Transfer", Deposit: "1"}}}
	tx2 := TxInput{ReceiverID: "a.near", Actions: []Action{{ActionType: "Transfer", Deposit: "1", Gas: "ignored-for-transfer"}}}

	d1, err := ComputeUIIntentDigestFromTxs([]TxInput{tx1})
	require.NoError(t, err)
	d2, err := ComputeUIIntentDigestFromTxs([]TxInput{tx2})
	require.NoError(t, err)

	require.Equal(t, d1, d2, "Transfer actions only digest the deposit field")
}

func TestDomainSeparatedDigestsDiffer(t *testing.T) {
	nep413, err := ComputeUIIntentDigestFromNep413(Nep413Intent{
		AccountID: "alice.near",
		Recipient: "bob.near",
		Message:   "hello",
	})
	require.NoError(t, err)

	login, err := ComputeLoginIntentDigest(LoginIntent{AccountID: "alice.near", RpID: "example.com"})
	require.NoError(t, err)

	require.NotEqual(t, nep413, login)
}
