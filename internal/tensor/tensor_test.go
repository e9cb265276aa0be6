package tensor_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/resnet/internal/backend/cpu"
	"github.com/born-ml/resnet/internal/tensor"
)

func TestShape(t *testing.T) {
	s := tensor.Shape{2, 3, 4}
	assert.Equal(t, 24, s.NumElements())
	assert.Equal(t, 1, tensor.Shape{}.NumElements())
	assert.Equal(t, []int{12, 4, 1}, s.ComputeStrides())
	assert.Equal(t, 2, s.NormalizeDim(-1))
	assert.Panics(t, func() { s.NormalizeDim(3) })

	c := s.Clone()
	c[0] = 9
	assert.Equal(t, 2, s[0])
	assert.False(t, s.Equal(c))

	assert.NoError(t, s.Validate())
	assert.Error(t, tensor.Shape{2, 0}.Validate())
}

func TestBroadcastShapes(t *testing.T) {
	tests := []struct {
		a, b     tensor.Shape
		want     tensor.Shape
		expanded bool
		wantErr  bool
	}{
		{tensor.Shape{3, 5}, tensor.Shape{3, 5}, tensor.Shape{3, 5}, false, false},
		{tensor.Shape{3, 1}, tensor.Shape{3, 5}, tensor.Shape{3, 5}, true, false},
		{tensor.Shape{64}, tensor.Shape{8, 64}, tensor.Shape{8, 64}, true, false},
		{tensor.Shape{1, 4, 1, 1}, tensor.Shape{2, 4, 3, 3}, tensor.Shape{2, 4, 3, 3}, true, false},
		{tensor.Shape{3, 4}, tensor.Shape{3, 5}, nil, false, true},
	}
	for _, tt := range tests {
		got, expanded, err := tensor.BroadcastShapes(tt.a, tt.b)
		if tt.wantErr {
			assert.Error(t, err, "%v + %v", tt.a, tt.b)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
		assert.Equal(t, tt.expanded, expanded, "%v + %v", tt.a, tt.b)
	}
}

func TestParseDataType(t *testing.T) {
	for _, dt := range []tensor.DataType{tensor.Float32, tensor.Float64, tensor.Int32, tensor.Int64, tensor.Uint8} {
		got, err := tensor.ParseDataType(dt.String())
		require.NoError(t, err)
		assert.Equal(t, dt, got)
	}
	_, err := tensor.ParseDataType("bool")
	assert.Error(t, err)
}

func TestRawTensorSharing(t *testing.T) {
	r := tensor.MustNewRaw(tensor.Shape{2, 2}, tensor.Float32, tensor.CPU)
	assert.True(t, r.IsUnique())
	assert.Equal(t, 16, r.ByteSize())

	unpin := r.ForceNonUnique()
	assert.False(t, r.IsUnique())
	unpin()
	assert.True(t, r.IsUnique())

	view := r.WithShape(tensor.Shape{4})
	view.AsFloat32()[3] = 7
	assert.Equal(t, float32(7), r.AsFloat32()[3])
	assert.False(t, r.IsUnique())
	view.Release()
	assert.True(t, r.IsUnique())

	cp := r.Copy()
	cp.AsFloat32()[0] = 1
	assert.Equal(t, float32(0), r.AsFloat32()[0])

	assert.Panics(t, func() { r.AsInt64() })
	assert.Panics(t, func() { r.WithShape(tensor.Shape{3}) })
}

func TestTensorAccess(t *testing.T) {
	backend := cpu.New()

	x, err := tensor.FromSlice([]float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3}, backend)
	require.NoError(t, err)
	assert.Equal(t, float32(6), x.At(1, 2))
	x.Set(10, 0, 1)
	assert.Equal(t, []float32{1, 10, 3, 4, 5, 6}, x.Data())
	assert.Panics(t, func() { x.At(2, 0) })
	assert.Panics(t, func() { x.At(0) })

	_, err = tensor.FromSlice([]float32{1, 2}, tensor.Shape{3}, backend)
	assert.Error(t, err)

	d := x.Detach()
	d.Set(0, 0, 0)
	assert.Equal(t, float32(1), x.At(0, 0))
	assert.Equal(t, "Tensor[float32][2 3] on CPU", x.String())
}

func TestReshapeInfersDimension(t *testing.T) {
	backend := cpu.New()
	x := tensor.Zeros[float32](tensor.Shape{4, 1, 2, 3}, backend)

	assert.Equal(t, tensor.Shape{4, 6}, x.Reshape(4, -1).Shape())
	assert.Equal(t, tensor.Shape{24}, x.Reshape(-1).Shape())
	assert.Panics(t, func() { x.Reshape(-1, -1) })
	assert.Panics(t, func() { x.Reshape(5, -1) })
}

func TestCreation(t *testing.T) {
	backend := cpu.New()

	assert.Equal(t, []float32{2.5, 2.5}, tensor.Full[float32](tensor.Shape{2}, 2.5, backend).Data())
	assert.Equal(t, []int64{1, 1, 1}, tensor.Ones[int64](tensor.Shape{3}, backend).Data())
	assert.Equal(t, float32(3), tensor.Full[float32](tensor.Shape{1}, 3, backend).Item())

	u := tensor.Uniform[float32](tensor.Shape{1000}, -0.5, 0.5, rand.New(rand.NewSource(1)), backend)
	for _, v := range u.Data() {
		assert.GreaterOrEqual(t, v, float32(-0.5))
		assert.Less(t, v, float32(0.5))
	}

	a := tensor.Randn[float32](tensor.Shape{8}, rand.New(rand.NewSource(3)), backend)
	b := tensor.Randn[float32](tensor.Shape{8}, rand.New(rand.NewSource(3)), backend)
	assert.Equal(t, a.Data(), b.Data())
	assert.Panics(t, func() { tensor.Randn[int32](tensor.Shape{2}, rand.New(rand.NewSource(1)), backend) })
}

func TestMatMulAndTranspose(t *testing.T) {
	backend := cpu.New()
	a, _ := tensor.FromSlice([]float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3}, backend)
	b, _ := tensor.FromSlice([]float32{1, 0, 0, 1, 1, 1}, tensor.Shape{3, 2}, backend)

	assert.Equal(t, []float32{4, 5, 10, 11}, a.MatMul(b).Data())
	at := a.T()
	assert.Equal(t, tensor.Shape{3, 2}, at.Shape())
	assert.Equal(t, []float32{1, 4, 2, 5, 3, 6}, at.Data())
	assert.Equal(t, []int32{2, 2}, a.Argmax(1).Data())
}
