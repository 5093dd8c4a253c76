package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quarrylabs/quarry/felt"
)

// Reference vector from the published hash spec.
func TestPedersenReferenceVector(t *testing.T) {
	a, err := felt.FromString("0x3d937c035c878245caf64531a5756109c53068da139362728feb561405371cb")
	require.NoError(t, err)
	b, err := felt.FromString("0x208a0a10250e382e1e4bbe2880906c2791bf6275695e02fbbc6aeff9cd8b31a")
	require.NoError(t, err)
	want, err := felt.FromString("0x30e480bed5fe53fa909cc0f8c4d99b8f9f2c016be4c41e13a4848797979c662")
	require.NoError(t, err)

	got := Pedersen(&a, &b)
	require.True(t, want.Equal(&got), "got %s want %s", got, want)
}

func TestPedersenNotCommutative(t *testing.T) {
	a := felt.New(1)
	b := felt.New(2)
	ab := Pedersen(&a, &b)
	ba := Pedersen(&b, &a)
	require.False(t, ab.Equal(&ba))
}

func TestContractStateHashDependsOnAllInputs(t *testing.T) {
	class := felt.New(11)
	root := felt.New(22)
	nonce := felt.New(33)

	base := ContractStateHash(&class, &root, &nonce)

	otherNonce := felt.New(34)
	changed := ContractStateHash(&class, &root, &otherNonce)
	require.False(t, base.Equal(&changed))

	otherRoot := felt.New(23)
	changed = ContractStateHash(&class, &otherRoot, &nonce)
	require.False(t, base.Equal(&changed))
}
