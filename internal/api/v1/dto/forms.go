// Package dto holds the form payloads posted by the dashboard pages.
package dto

import (
	"net/http"
	"strconv"
	"strings"
)

// DisplayNameForm is posted by the header's inline editor. Length and
// emptiness are checked by the session store so the messages match the
// backend's wording.
type DisplayNameForm struct {
	DisplayName string `validate:"max=200"`
}

// PackageForm selects a fixed payment package.
type PackageForm struct {
	AmountTHB int `validate:"required,gt=0"`
}

// CustomAmountForm carries the raw text of the custom amount field.
type CustomAmountForm struct {
	Amount string `validate:"max=12"`
}

// LIFFLoginForm is posted by the LIFF SDK running inside the LINE app.
type LIFFLoginForm struct {
	AccessToken string `validate:"required,max=2048"`
}

func ParseDisplayNameForm(r *http.Request) DisplayNameForm {
	return DisplayNameForm{DisplayName: r.PostFormValue("display_name")}
}

// ParsePackageForm leaves AmountTHB at zero when the value is not a number,
// which validation then rejects.
func ParsePackageForm(r *http.Request) PackageForm {
	amount, _ := strconv.Atoi(strings.TrimSpace(r.PostFormValue("amount_thb")))
	return PackageForm{AmountTHB: amount}
}

func ParseCustomAmountForm(r *http.Request) CustomAmountForm {
	return CustomAmountForm{Amount: r.PostFormValue("amount")}
}

func ParseLIFFLoginForm(r *http.Request) LIFFLoginForm {
	return LIFFLoginForm{AccessToken: strings.TrimSpace(r.PostFormValue("access_token"))}
}
