package ephemeris

import "testing"

func FuzzParse(f *testing.F) {
	// Seed corpus: representative payloads
	f.Add(vectorPayload)
	f.Add("$$SOE\n EC= 0.7 QR= 1.1 IN= 45.0\n$$EOE\n")
	f.Add("$$SOE\n2462000.5, 3.2, 1.1, 89.0\n$$EOE\n")
	f.Add("$$SOE\n 213.55818 -12.51214  14.32  2.31293867 1.54107\n$$EOE\n")

	// Edge cases
	f.Add("")
	f.Add("$$SOE$$EOE")
	f.Add("$$SOE\n$$EOE")
	f.Add("$$EOE\n$$SOE")
	f.Add("<html>502</html>")
	f.Add("$$SOE\n X = NaN Y = Inf Z = 1e999\n$$EOE\n")

	f.Fuzz(func(t *testing.T, raw string) {
		// Parse must never panic and never return an all-nil record
		// without an error.
		rec, err := Parse(raw)
		if err != nil {
			return
		}
		if rec == nil {
			t.Fatal("nil record with nil error")
		}
		if rec.Empty() {
			t.Error("empty record escaped without an error")
		}
	})
}
