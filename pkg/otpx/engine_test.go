package otpx_test

import (
	"strings"
	"testing"
	"time"

	"github.com/aussiebroadwan/twofactor/pkg/base32x"
	"github.com/aussiebroadwan/twofactor/pkg/otpx"
	"github.com/stretchr/testify/require"
	"github.com/xlzd/gotp"
)

// Seeds from RFC 6238 Appendix B.
var (
	seedSHA1   = base32x.Encode([]byte("12345678901234567890"))
	seedSHA256 = base32x.Encode([]byte("12345678901234567890123456789012"))
	seedSHA512 = base32x.Encode([]byte(strings.Repeat("1234567890", 6) + "1234"))
)

func TestGenerate_RFC6238SixDigits(t *testing.T) {
	engine := otpx.New(otpx.DefaultOptions())

	code, err := engine.Generate(seedSHA1, time.Unix(59, 0))
	require.NoError(t, err)
	require.Equal(t, "287082", code)
}

func TestGenerate_RFC6238Vectors(t *testing.T) {
	tests := []struct {
		unix   int64
		sha1   string
		sha256 string
		sha512 string
	}{
		{59, "94287082", "46119246", "90693936"},
		{1111111109, "07081804", "68084774", "25091201"},
		{1111111111, "14050471", "67062674", "99943326"},
		{1234567890, "89005924", "91819424", "93441116"},
		{2000000000, "69279037", "90698825", "38618901"},
		{20000000000, "65353130", "77737706", "47863826"},
	}

	engines := map[otpx.Algorithm]*otpx.Engine{
		otpx.AlgorithmSHA1:   otpx.New(otpx.Options{Algorithm: otpx.AlgorithmSHA1, Digits: 8}),
		otpx.AlgorithmSHA256: otpx.New(otpx.Options{Algorithm: otpx.AlgorithmSHA256, Digits: 8}),
		otpx.AlgorithmSHA512: otpx.New(otpx.Options{Algorithm: otpx.AlgorithmSHA512, Digits: 8}),
	}

	for _, tt := range tests {
		at := time.Unix(tt.unix, 0)

		code, err := engines[otpx.AlgorithmSHA1].Generate(seedSHA1, at)
		require.NoError(t, err)
		require.Equal(t, tt.sha1, code, "sha1 at %d", tt.unix)

		code, err = engines[otpx.AlgorithmSHA256].Generate(seedSHA256, at)
		require.NoError(t, err)
		require.Equal(t, tt.sha256, code, "sha256 at %d", tt.unix)

		code, err = engines[otpx.AlgorithmSHA512].Generate(seedSHA512, at)
		require.NoError(t, err)
		require.Equal(t, tt.sha512, code, "sha512 at %d", tt.unix)
	}
}

func TestHOTP_RFC4226Vectors(t *testing.T) {
	// RFC 4226 Appendix D.
	want := []string{
		"755224", "287082", "359152", "969429", "338314",
		"254676", "287922", "162583", "399871", "520489",
	}

	engine := otpx.New(otpx.DefaultOptions())
	for counter, code := range want {
		got, err := engine.HOTP([]byte("12345678901234567890"), uint64(counter))
		require.NoError(t, err)
		require.Equal(t, code, got)
	}

	_, err := engine.HOTP(nil, 0)
	require.ErrorIs(t, err, otpx.ErrInvalidSecret)
}

func TestHOTP_KeepsLeadingZeros(t *testing.T) {
	engine := otpx.New(otpx.Options{Digits: 8})

	// 07081804 is the RFC vector at 1111111109 and starts with a zero.
	code, err := engine.HOTP([]byte("12345678901234567890"), engine.Counter(time.Unix(1111111109, 0)))
	require.NoError(t, err)
	require.Equal(t, "07081804", code)
	require.Len(t, code, 8)
}

func TestVerify_Window(t *testing.T) {
	engine := otpx.New(otpx.DefaultOptions())
	now := time.Unix(1700000000, 0)
	period := otpx.DefaultPeriod

	codeAt := func(at time.Time) string {
		code, err := engine.Generate(seedSHA1, at)
		require.NoError(t, err)
		return code
	}

	require.True(t, engine.Verify(codeAt(now), seedSHA1, now), "current step")
	require.True(t, engine.Verify(codeAt(now.Add(-period)), seedSHA1, now), "previous step")
	require.True(t, engine.Verify(codeAt(now.Add(period)), seedSHA1, now), "next step")

	// Skip the assertion in the unlikely case two steps share a code.
	old := codeAt(now.Add(-2 * period))
	if old != codeAt(now) && old != codeAt(now.Add(-period)) && old != codeAt(now.Add(period)) {
		require.False(t, engine.Verify(old, seedSHA1, now), "two steps back")
	}

	// A zero window only accepts the current step.
	if prev := codeAt(now.Add(-period)); prev != codeAt(now) {
		require.False(t, engine.VerifyWindow(prev, seedSHA1, now, 0))
	}
	require.True(t, engine.VerifyWindow(codeAt(now), seedSHA1, now, 0))
}

func TestMatch_ReportsCounter(t *testing.T) {
	engine := otpx.New(otpx.DefaultOptions())
	now := time.Unix(1700000000, 0)

	code, err := engine.Generate(seedSHA1, now.Add(otpx.DefaultPeriod))
	require.NoError(t, err)

	counter, ok := engine.Match(code, seedSHA1, now)
	require.True(t, ok)
	require.Equal(t, engine.Counter(now)+1, counter)
}

func TestVerify_RejectsMalformedInput(t *testing.T) {
	engine := otpx.New(otpx.DefaultOptions())
	now := time.Unix(59, 0)

	tests := []struct {
		name   string
		code   string
		secret string
	}{
		{"empty code", "", seedSHA1},
		{"short code", "28708", seedSHA1},
		{"long code", "2870820", seedSHA1},
		{"non digits", "28708a", seedSHA1},
		{"spaces", "287 82", seedSHA1},
		{"empty secret", "287082", ""},
		{"garbage secret", "287082", "!!!!"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.False(t, engine.Verify(tt.code, tt.secret, now))
		})
	}
}

func TestGenerate_InvalidSecret(t *testing.T) {
	engine := otpx.New(otpx.DefaultOptions())

	_, err := engine.Generate("", time.Now())
	require.ErrorIs(t, err, otpx.ErrInvalidSecret)
}

func TestCounter_BeforeEpochAndNearZero(t *testing.T) {
	engine := otpx.New(otpx.DefaultOptions())
	require.Equal(t, uint64(0), engine.Counter(time.Unix(-100, 0)))
	require.Equal(t, uint64(1), engine.Counter(time.Unix(59, 0)))

	// Window below counter zero must not wrap around.
	code, err := engine.Generate(seedSHA1, time.Unix(0, 0))
	require.NoError(t, err)
	require.True(t, engine.Verify(code, seedSHA1, time.Unix(1, 0)))
}

func TestMatch_TolerantSecretNextStep(t *testing.T) {
	engine := otpx.New(otpx.DefaultOptions())
	now := time.Unix(1111111109, 0)

	// The same seed as typed by hand: lower case, grouped, padded
	typed := strings.ToLower(seedSHA1[:8]) + " " + seedSHA1[8:16] + "-" + seedSHA1[16:] + "===="

	code, err := engine.Generate(seedSHA1, now.Add(otpx.DefaultPeriod))
	require.NoError(t, err)

	counter, ok := engine.Match(code, typed, now)
	require.True(t, ok)
	require.Equal(t, engine.Counter(now)+1, counter)
}

func TestEngine_MatchesGotp(t *testing.T) {
	secret := base32x.Encode([]byte("another-20-byte-seed"))
	engine := otpx.New(otpx.DefaultOptions())
	reference := gotp.NewDefaultTOTP(secret)

	check := func(want string, unix int64) {
		got, err := engine.Generate(secret, time.Unix(unix, 0))
		require.NoError(t, err)
		require.Equal(t, want, got, "at %d", unix)
	}

	check(reference.At(59), 59)
	check(reference.At(1111111111), 1111111111)
	check(reference.At(1700000000), 1700000000)
	check(reference.At(2000000000), 2000000000)
}

func TestOptions_Validate(t *testing.T) {
	tests := []struct {
		name    string
		opts    otpx.Options
		wantErr bool
	}{
		{"defaults", otpx.DefaultOptions(), false},
		{"zero value", otpx.Options{}, false},
		{"eight digits", otpx.Options{Digits: 8}, false},
		{"five digits", otpx.Options{Digits: 5}, true},
		{"nine digits", otpx.Options{Digits: 9}, true},
		{"sub second period", otpx.Options{Period: 500 * time.Millisecond}, true},
		{"fractional period", otpx.Options{Period: 1500 * time.Millisecond}, true},
		{"negative window", otpx.Options{Window: -1}, true},
		{"huge window", otpx.Options{Window: 50}, true},
		{"unknown algorithm", otpx.Options{Algorithm: "MD5"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if tt.wantErr {
				require.ErrorIs(t, err, otpx.ErrInvalidOptions)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestParseAlgorithm(t *testing.T) {
	for in, want := range map[string]otpx.Algorithm{
		"":        otpx.AlgorithmSHA1,
		"sha1":    otpx.AlgorithmSHA1,
		"SHA-256": otpx.AlgorithmSHA256,
		" sha512": otpx.AlgorithmSHA512,
	} {
		got, err := otpx.ParseAlgorithm(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	_, err := otpx.ParseAlgorithm("md5")
	require.ErrorIs(t, err, otpx.ErrInvalidOptions)
}
