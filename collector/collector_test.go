package collector

import (
	"testing"
	"time"

	"polisflow/contract"
	"polisflow/driver"
)

func TestJoinAddress(t *testing.T) {
	cases := []struct {
		name string
		in   driver.Address
		want string
	}{
		{
			name: "full",
			in:   driver.Address{State: "Bavaria", City: "Munich", Street: "Hauptstr", House: "12", Block: "B", Apartment: "4"},
			want: "Bavaria, Munich, Hauptstr, 12, B, 4",
		},
		{
			name: "sparse",
			in:   driver.Address{City: "Munich", Street: "Hauptstr", House: "12"},
			want: "Munich, Hauptstr, 12",
		},
		{
			name: "empty",
			in:   driver.Address{},
			want: "",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := JoinAddress(tc.in); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func testData() driver.PolicyData {
	h := driver.Person{
		FirstName: "Anna",
		LastName:  "Schmidt",
		BirthDate: time.Date(1990, 5, 2, 0, 0, 0, 0, time.UTC),
	}
	return driver.PolicyData{
		ProgramCode: "LIFE1",
		Duration:    "1y",
		ActiveFrom:  time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
		ActiveTo:    time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC),
		SignedAt:    time.Date(2024, 3, 28, 0, 0, 0, 0, time.UTC),
		InsuredSum:  500000,
		Holder:      h,
		Objects: []driver.InsuredObject{
			{Product: contract.ProductLife, Person: &h},
			{Product: contract.ProductProperty, Value: map[string]any{"address": "Main St 1"}},
		},
	}
}

func TestBuildRESTPolicy(t *testing.T) {
	p := BuildRESTPolicy(testData())
	if p.Program != "LIFE1" || p.Duration != "1y" {
		t.Fatalf("unexpected header fields: %+v", p)
	}
	if p.ActiveFrom != "2024-04-01" || p.ActiveTo != "2025-03-31" {
		t.Fatalf("unexpected dates: %s..%s", p.ActiveFrom, p.ActiveTo)
	}
	if len(p.Objects) != 2 || p.Objects[0].Person == nil || p.Objects[1].Person != nil {
		t.Fatalf("unexpected objects: %+v", p.Objects)
	}
	if p.Objects[1].Value["address"] != "Main St 1" {
		t.Fatalf("property payload lost: %+v", p.Objects[1])
	}
}

func TestBuildRESTPolicyOmitsZeroActiveTo(t *testing.T) {
	data := testData()
	data.ActiveTo = time.Time{}
	p := BuildRESTPolicy(data)
	if p.ActiveTo != "" {
		t.Fatalf("expected empty activeTo, got %q", p.ActiveTo)
	}
}

func TestBuildSOAPOrderRefs(t *testing.T) {
	order := BuildSOAPOrder("req-1", testData(), 1500)
	if order.RequestID != "req-1" || order.Premium != 1500 {
		t.Fatalf("unexpected order header: %+v", order)
	}
	if order.Holder.Ref != "holder" {
		t.Fatalf("holder ref %q", order.Holder.Ref)
	}
	if len(order.Insured) != 2 || order.Insured[0].Ref != ObjectRef(0) || order.Insured[1].Ref != ObjectRef(1) {
		t.Fatalf("object refs not stable: %+v", order.Insured)
	}
}

func TestBuildAsyncImportCarriesPremium(t *testing.T) {
	imp := BuildAsyncImport("req-9", testData(), 1234.5)
	if imp.RequestID != "req-9" || imp.Premium != 1234.5 {
		t.Fatalf("unexpected import header: %+v", imp)
	}
	if imp.SignedAt != "2024-03-28" {
		t.Fatalf("signedAt %q", imp.SignedAt)
	}
}
