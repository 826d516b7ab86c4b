// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package lualex

import (
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestScanner(t *testing.T) {
	tests := []struct {
		s    string
		want []Token
		bad  bool
	}{
		{s: "", want: []Token{}},
		{
			s: "foo",
			want: []Token{
				{Kind: IdentifierToken, Position: Pos(1, 1), Value: "foo"},
			},
		},
		{
			s: "  foo  ",
			want: []Token{
				{Kind: IdentifierToken, Position: Pos(1, 3), Value: "foo"},
			},
		},
		{
			s: "local x = 3",
			want: []Token{
				{Kind: LocalToken, Position: Pos(1, 1)},
				{Kind: IdentifierToken, Position: Pos(1, 7), Value: "x"},
				{Kind: AssignToken, Position: Pos(1, 9)},
				{Kind: NumeralToken, Position: Pos(1, 11), Value: "3"},
			},
		},
		{
			s: "0xff",
			want: []Token{
				{Kind: NumeralToken, Position: Pos(1, 1), Value: "0xff"},
			},
		},
		{
			s: "3.1416",
			want: []Token{
				{Kind: NumeralToken, Position: Pos(1, 1), Value: "3.1416"},
			},
		},
		{
			s: "314.16e-2",
			want: []Token{
				{Kind: NumeralToken, Position: Pos(1, 1), Value: "314.16e-2"},
			},
		},
		{
			s: `"hello\nworld"`,
			want: []Token{
				{Kind: StringToken, Position: Pos(1, 1), Value: "hello\nworld"},
			},
		},
		{
			s: `'it''s \97 test'`,
			want: []Token{
				{Kind: StringToken, Position: Pos(1, 1), Value: "it"},
				{Kind: StringToken, Position: Pos(1, 5), Value: "s a test"},
			},
		},
		{
			s:   `'\999'`,
			bad: true,
		},
		{
			s: "[[long\nstring]]",
			want: []Token{
				{Kind: StringToken, Position: Pos(1, 1), Value: "long\nstring"},
			},
		},
		{
			s: "-- a comment\n42",
			want: []Token{
				{Kind: NumeralToken, Position: Pos(2, 1), Value: "42"},
			},
		},
		{
			s: "--[[ long\ncomment ]]42",
			want: []Token{
				{Kind: NumeralToken, Position: Pos(2, 11), Value: "42"},
			},
		},
		{
			s: "#!/usr/bin/env lua\nreturn 1",
			want: []Token{
				{Kind: ReturnToken, Position: Pos(2, 1)},
				{Kind: NumeralToken, Position: Pos(2, 8), Value: "1"},
			},
		},
		{
			s: "a == b ~= c",
			want: []Token{
				{Kind: IdentifierToken, Position: Pos(1, 1), Value: "a"},
				{Kind: EqualToken, Position: Pos(1, 3)},
				{Kind: IdentifierToken, Position: Pos(1, 6), Value: "b"},
				{Kind: NotEqualToken, Position: Pos(1, 8)},
				{Kind: IdentifierToken, Position: Pos(1, 11), Value: "c"},
			},
		},
		{
			s:   "a & b",
			bad: true,
		},
		{
			s: "a .. b ... c",
			want: []Token{
				{Kind: IdentifierToken, Position: Pos(1, 1), Value: "a"},
				{Kind: ConcatToken, Position: Pos(1, 3)},
				{Kind: IdentifierToken, Position: Pos(1, 6), Value: "b"},
				{Kind: VarargToken, Position: Pos(1, 8)},
				{Kind: IdentifierToken, Position: Pos(1, 12), Value: "c"},
			},
		},
		{
			s: "::top::",
			want: []Token{
				{Kind: LabelToken, Position: Pos(1, 1)},
				{Kind: IdentifierToken, Position: Pos(1, 3), Value: "top"},
				{Kind: LabelToken, Position: Pos(1, 6)},
			},
		},
	}

	for _, test := range tests {
		t.Run("", func(t *testing.T) {
			s := NewScanner(strings.NewReader(test.s))
			var got []Token
			bad := false
			for {
				tok, err := s.Scan()
				if err != nil {
					if err != io.EOF {
						bad = true
					}
					break
				}
				got = append(got, tok)
			}
			if bad != test.bad {
				t.Errorf("Scan(%q) error = %v, want bad = %t", test.s, bad, test.bad)
			}
			if !test.bad {
				if diff := cmp.Diff(test.want, got, cmpopts.EquateEmpty()); diff != "" {
					t.Errorf("Scan(%q) (-want +got):\n%s", test.s, diff)
				}
			}
		})
	}
}
