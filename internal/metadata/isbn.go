package metadata

import "strings"

// normalizeISBN removes hyphens and spaces from ISBN.
func normalizeISBN(isbn string) string {
	isbn = strings.ReplaceAll(isbn, "-", "")
	isbn = strings.ReplaceAll(isbn, " ", "")
	isbn = strings.TrimSpace(isbn)

	// Basic validation: ISBN-10 or ISBN-13
	if len(isbn) != 10 && len(isbn) != 13 {
		return ""
	}

	return isbn
}

// ToISBN13 normalizes an ISBN-10 or ISBN-13 to ISBN-13. It returns "" for
// anything that is not a well-formed ISBN.
func ToISBN13(isbn string) string {
	isbn = strings.ToUpper(normalizeISBN(isbn))
	switch len(isbn) {
	case 13:
		if !allDigits(isbn) || isbn13CheckDigit(isbn[:12]) != isbn[12] {
			return ""
		}
		return isbn
	case 10:
		if !allDigits(isbn[:9]) || isbn10CheckDigit(isbn[:9]) != isbn[9] {
			return ""
		}
		body := "978" + isbn[:9]
		return body + string(isbn13CheckDigit(body))
	}
	return ""
}

func isbn13CheckDigit(first12 string) byte {
	sum := 0
	for i := 0; i < 12; i++ {
		d := int(first12[i] - '0')
		if i%2 == 1 {
			d *= 3
		}
		sum += d
	}
	return byte('0' + (10-sum%10)%10)
}

func isbn10CheckDigit(first9 string) byte {
	sum := 0
	for i := 0; i < 9; i++ {
		sum += int(first9[i]-'0') * (10 - i)
	}
	check := (11 - sum%11) % 11
	if check == 10 {
		return 'X'
	}
	return byte('0' + check)
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
