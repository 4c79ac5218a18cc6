package table

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ktap/ktap-sub001/internal/value"
)

func TestTable_SetGet_Invariant(t *testing.T) {
	// Invariant 1 (§8): after set(t,k,v) with non-nil v, get(t,k)==v;
	// after set(t,k,nil), get(t,k)==nil.
	tbl := New(false)

	k := value.Number(42)
	v := value.Number(7)
	require.NoError(t, tbl.Set(k, v))
	assert.Equal(t, v, tbl.Get(k))

	require.NoError(t, tbl.Set(k, value.Nil))
	assert.True(t, value.IsNil(tbl.Get(k)))
}

func TestTable_Get_MissingKeyIsNil(t *testing.T) {
	tbl := New(false)
	assert.True(t, value.IsNil(tbl.Get(value.Number(999))))
}

func TestTable_ArrayPart_GrowsContiguously(t *testing.T) {
	tbl := New(false)
	for i := int64(1); i <= 10; i++ {
		require.NoError(t, tbl.Set(value.Number(i), value.Number(i*10)))
	}
	assert.Equal(t, 10, tbl.Len())
	for i := int64(1); i <= 10; i++ {
		assert.Equal(t, i*10, value.AsNumber(tbl.Get(value.Number(i))))
	}
}

func TestTable_HashPart_ManyKeysSurviveRehash(t *testing.T) {
	tbl := New(false)
	const n = 500
	for i := 0; i < n; i++ {
		// sparse non-array-like keys force hash-part growth and Brent's
		// variation displacement repeatedly.
		k := value.Number(int64(i)*97 + 100003)
		require.NoError(t, tbl.Set(k, value.Number(int64(i))))
	}
	for i := 0; i < n; i++ {
		k := value.Number(int64(i)*97 + 100003)
		assert.Equal(t, int64(i), value.AsNumber(tbl.Get(k)))
	}
	assert.Equal(t, n, tbl.Len())
}

func TestTable_Next_VisitsEveryKeyExactlyOnce(t *testing.T) {
	// Invariant 3 (§8).
	tbl := New(false)
	want := map[int64]bool{}
	for i := int64(1); i <= 50; i++ {
		k := i
		if i%2 == 0 {
			k = i*131 + 17 // push every other key into the hash part
		}
		require.NoError(t, tbl.Set(value.Number(k), value.Number(k)))
		want[k] = true
	}

	seen := map[int64]int{}
	k := value.Nil
	for {
		nk, _, ok := tbl.Next(k)
		if !ok {
			break
		}
		seen[value.AsNumber(nk)]++
		k = nk
	}

	assert.Equal(t, len(want), len(seen))
	for key, count := range seen {
		assert.Truef(t, want[key], "unexpected key %d visited", key)
		assert.Equal(t, 1, count, "key %d visited %d times", key, count)
	}
}

func TestTable_Sort_DefaultNumericAscending(t *testing.T) {
	tbl := New(false)
	require.NoError(t, tbl.Set(value.Number(1), value.Number(30)))
	require.NoError(t, tbl.Set(value.Number(2), value.Number(10)))
	require.NoError(t, tbl.Set(value.Number(3), value.Number(20)))

	sorted := tbl.Sort(nil)
	require.Len(t, sorted, 3)
	assert.Equal(t, int64(10), value.AsNumber(sorted[0].Val))
	assert.Equal(t, int64(20), value.AsNumber(sorted[1].Val))
	assert.Equal(t, int64(30), value.AsNumber(sorted[2].Val))
}

func TestTable_Histogram_Scenario(t *testing.T) {
	// Histogram end-to-end scenario (§8): (1,10) (2,40) (3,40) (4,10).
	tbl := New(false)
	require.NoError(t, tbl.Set(value.Number(1), value.Number(10)))
	require.NoError(t, tbl.Set(value.Number(2), value.Number(40)))
	require.NoError(t, tbl.Set(value.Number(3), value.Number(40)))
	require.NoError(t, tbl.Set(value.Number(4), value.Number(10)))

	out, err := tbl.Histogram(20)
	require.NoError(t, err)
	assert.Contains(t, out, "count")
	// keys 2 and 3 (value 40) should render before keys 1 and 4 (value 10).
	idx2 := indexOf(out, "2 |")
	idx1 := indexOf(out, "1 |")
	require.NotEqual(t, -1, idx2)
	require.NotEqual(t, -1, idx1)
	assert.Less(t, idx2, idx1)
}

func TestTable_Histogram_RejectsNonNumericValues(t *testing.T) {
	tbl := New(false)
	require.NoError(t, tbl.Set(value.Number(1), value.Bool(true)))
	_, err := tbl.Histogram(20)
	assert.Error(t, err)
}

func TestTable_AddStat_Aggregation(t *testing.T) {
	tbl := New(true)
	k := value.Number(1)
	require.NoError(t, tbl.AddStat(k, 5))
	require.NoError(t, tbl.AddStat(k, 7))
	st := tbl.Stat(k)
	assert.Equal(t, int64(2), st.Count)
	assert.Equal(t, int64(12), st.Sum)
	assert.Equal(t, int64(5), st.Min)
	assert.Equal(t, int64(7), st.Max)
}

func TestTable_MergeStat_FoldsAggregatedRecords(t *testing.T) {
	tbl := New(true)
	k := value.Number(1)

	require.NoError(t, tbl.MergeStat(k, StatData{Count: 3, Sum: 30, Min: 5, Max: 15}))
	require.NoError(t, tbl.MergeStat(k, StatData{Count: 2, Sum: 4, Min: 1, Max: 3}))

	st := tbl.Stat(k)
	assert.Equal(t, int64(5), st.Count)
	assert.Equal(t, int64(34), st.Sum)
	assert.Equal(t, int64(1), st.Min)
	assert.Equal(t, int64(15), st.Max)
}

func TestTable_MergeStat_ZeroCountIsNoop(t *testing.T) {
	tbl := New(true)
	k := value.Number(1)
	require.NoError(t, tbl.MergeStat(k, StatData{}))
	assert.Equal(t, int64(0), tbl.Stat(k).Count)
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
