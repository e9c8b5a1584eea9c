package serialization

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/visionzoo/internal/tensor"
)

func mustTensor(t *testing.T, data []float32, shape ...int) *tensor.Tensor {
	t.Helper()
	x, err := tensor.FromSlice(data, tensor.Shape(shape))
	require.NoError(t, err)
	return x
}

func sampleStateDict(t *testing.T) map[string]*tensor.Tensor {
	return map[string]*tensor.Tensor{
		"features.0.weight": mustTensor(t, []float32{1, -2, 3.5, 4, 0.25, -6}, 2, 3),
		"features.0.bias":   mustTensor(t, []float32{0.5, -0.5}, 2),
		"fc.weight":         mustTensor(t, []float32{7}, 1, 1),
	}
}

// splitFile returns the decoded JSON header and the data section.
func splitFile(t *testing.T, b []byte) (map[string]json.RawMessage, []byte) {
	t.Helper()
	n := binary.LittleEndian.Uint64(b[:8])
	var header map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(b[8:8+n], &header))
	return header, b[8+n:]
}

func TestRoundTrip(t *testing.T) {
	sd := sampleStateDict(t)
	path := filepath.Join(t.TempDir(), "model.safetensors")
	require.NoError(t, WriteFile(path, sd, map[string]string{"model": "tiny"}))

	got, meta, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "tiny", meta["model"])
	assert.NotEmpty(t, meta[MetadataChecksum])

	require.Len(t, got, len(sd))
	for name, want := range sd {
		require.Contains(t, got, name)
		assert.True(t, want.Equal(got[name]), name)
	}
}

func TestWrite_SortedLayout(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sampleStateDict(t), nil))

	header, data := splitFile(t, buf.Bytes())
	assert.Len(t, data, (6+2+1)*4)

	offsets := map[string][2]int64{}
	for _, name := range []string{"fc.weight", "features.0.bias", "features.0.weight"} {
		var h SafeTensorHeader
		require.NoError(t, json.Unmarshal(header[name], &h))
		assert.Equal(t, "F32", h.DType)
		offsets[name] = h.DataOffsets
	}
	assert.Equal(t, [2]int64{0, 4}, offsets["fc.weight"])
	assert.Equal(t, [2]int64{4, 12}, offsets["features.0.bias"])
	assert.Equal(t, [2]int64{12, 36}, offsets["features.0.weight"])
}

func TestWrite_Deterministic(t *testing.T) {
	var a, b bytes.Buffer
	require.NoError(t, Write(&a, sampleStateDict(t), map[string]string{"k": "v"}))
	require.NoError(t, Write(&b, sampleStateDict(t), map[string]string{"k": "v"}))
	assert.Equal(t, a.Bytes(), b.Bytes())
}

func TestWrite_RejectsBadNames(t *testing.T) {
	for _, name := range []string{"", "../etc", "a/b", "nul\x00"} {
		sd := map[string]*tensor.Tensor{name: tensor.Zeros(tensor.Shape{1})}
		err := Write(&bytes.Buffer{}, sd, nil)
		var ve *ValidationError
		assert.ErrorAs(t, err, &ve, "name %q", name)
	}
}

func TestRead_ChecksumMismatch(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sampleStateDict(t), nil))

	b := buf.Bytes()
	b[len(b)-1] ^= 0xff

	_, _, err := Read(bytes.NewReader(b))
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestRead_Truncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sampleStateDict(t), nil))
	b := buf.Bytes()

	_, _, err := Read(bytes.NewReader(b[:4]))
	assert.ErrorIs(t, err, ErrTruncated)

	_, _, err = Read(bytes.NewReader(b[:len(b)-8]))
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestRead_HeaderTooLarge(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint64(MaxHeaderSize+1)))
	_, _, err := Read(&buf)
	assert.ErrorIs(t, err, ErrHeaderTooLarge)
}

// encode builds a raw file from a header map, bypassing the writer.
func encode(t *testing.T, header map[string]interface{}, data []byte) []byte {
	t.Helper()
	h, err := json.Marshal(header)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint64(len(h))))
	buf.Write(h)
	buf.Write(data)
	return buf.Bytes()
}

func TestRead_UnsupportedDType(t *testing.T) {
	b := encode(t, map[string]interface{}{
		"w": SafeTensorHeader{DType: "F16", Shape: []int64{2}, DataOffsets: [2]int64{0, 4}},
	}, make([]byte, 4))
	_, _, err := Read(bytes.NewReader(b))
	assert.ErrorIs(t, err, ErrUnsupportedDType)
}

func TestRead_OverlappingOffsets(t *testing.T) {
	b := encode(t, map[string]interface{}{
		"a": SafeTensorHeader{DType: "F32", Shape: []int64{2}, DataOffsets: [2]int64{0, 8}},
		"b": SafeTensorHeader{DType: "F32", Shape: []int64{2}, DataOffsets: [2]int64{4, 12}},
	}, make([]byte, 12))
	_, _, err := Read(bytes.NewReader(b))

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "offset_overlap", ve.Type)
}

func TestRead_WithoutChecksum(t *testing.T) {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint32(data[0:], 0x3f800000) // 1.0
	binary.LittleEndian.PutUint32(data[4:], 0x40000000) // 2.0
	b := encode(t, map[string]interface{}{
		"w": SafeTensorHeader{DType: "F32", Shape: []int64{2}, DataOffsets: [2]int64{0, 8}},
	}, data)

	sd, meta, err := Read(bytes.NewReader(b))
	require.NoError(t, err)
	assert.Nil(t, meta)
	assert.Equal(t, []float32{1, 2}, sd["w"].Data())
}

func TestValidateTensorOffsets(t *testing.T) {
	tests := []struct {
		name  string
		metas []TensorMeta
		want  string
	}{
		{"ok", []TensorMeta{{Name: "a", Shape: []int{2}, Offset: 0, Size: 8}}, ""},
		{"size", []TensorMeta{{Name: "a", Shape: []int{3}, Offset: 0, Size: 8}}, "size_mismatch"},
		{"bounds", []TensorMeta{{Name: "a", Shape: []int{4}, Offset: 0, Size: 16}}, "out_of_bounds"},
		{"negative", []TensorMeta{{Name: "a", Shape: []int{0}, Offset: -4, Size: 0}}, "negative_offset"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTensorOffsets(tt.metas, 8)
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.want, ve.Type)
		})
	}
}
