package bench

import (
	"math/rand/v2"
	"strings"
)

// vocabulary used to build synthetic prompts; one word is roughly one token
var vocabulary = strings.Fields(`
the of and to in is that for it as was with be by on not he this are or his
from at which but have an they you were her she there been one all we their
has would when if so no what up out who them some into more time can only
other new these two may first then do any like my now over such our man me
even most made after also did many before must through back years where much
way well down should because each just those people how too little state good
very make world still own see men work long get here between both life being
under never day same another know while last might us great old year off come
since against go came right used take three`)

// RandomOptions describes a synthetic request set.
type RandomOptions struct {
	APIURL     string
	Model      string
	ModelName  string
	NumPrompts int
	PrefixLen  int
	InputLen   int
	OutputLen  int
	RangeRatio float64 // lengths are drawn from [len*RangeRatio, len]
	Seed       uint64
	IgnoreEOS  bool
	ExtraBody  map[string]any
}

// RandomRequests builds NumPrompts requests with a shared random prefix and
// per-request random bodies. The same seed always yields the same set.
func RandomRequests(opts RandomOptions) []RequestSpec {
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))

	prefix := make([]string, opts.PrefixLen)
	for i := range prefix {
		prefix[i] = vocabulary[rng.IntN(len(vocabulary))]
	}

	requests := make([]RequestSpec, 0, opts.NumPrompts)
	for i := 0; i < opts.NumPrompts; i++ {
		inputLen := drawLen(rng, opts.InputLen, opts.RangeRatio)
		outputLen := drawLen(rng, opts.OutputLen, opts.RangeRatio)
		offset := rng.IntN(len(vocabulary))

		words := make([]string, 0, len(prefix)+inputLen)
		words = append(words, prefix...)
		for j := 0; j < inputLen; j++ {
			words = append(words, vocabulary[(offset+i+j)%len(vocabulary)])
		}

		requests = append(requests, RequestSpec{
			Prompt:    strings.Join(words, " "),
			APIURL:    opts.APIURL,
			PromptLen: opts.PrefixLen + inputLen,
			OutputLen: outputLen,
			Model:     opts.Model,
			ModelName: opts.ModelName,
			IgnoreEOS: opts.IgnoreEOS,
			ExtraBody: opts.ExtraBody,
		})
	}
	return requests
}

// drawLen picks a length uniformly in [int(n*ratio), n].
func drawLen(rng *rand.Rand, n int, ratio float64) int {
	if n <= 0 {
		return 0
	}
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}
	low := int(float64(n) * ratio)
	return low + rng.IntN(n-low+1)
}
