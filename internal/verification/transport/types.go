// Package transport provides HTTP request/response types for the verification domain.
package transport

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pendergraft/codeproof/internal/validation"
	"github.com/pendergraft/codeproof/internal/verification/domain"
)

// VerifyRequest is the HTTP request body for verifying a contract.
type VerifyRequest struct {
	Address  string `json:"address"`
	Contract string `json:"contract"`
	Block    string `json:"block,omitempty"`
	// ConstructorArgs are typed values. An explicit empty list is kept
	// distinct from an absent field.
	ConstructorArgs        []string `json:"constructorArgs"`
	EncodedConstructorArgs string   `json:"encodedConstructorArgs,omitempty"`
	Ignore                 string   `json:"ignore,omitempty"`
}

// ToDomain validates the request and converts it to domain.Request.
func (r VerifyRequest) ToDomain() (domain.Request, error) {
	if err := validation.ValidateAddress(r.Address); err != nil {
		return domain.Request{}, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	id, err := validation.ParseContractID(r.Contract)
	if err != nil {
		return domain.Request{}, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	req := domain.Request{
		Address:         common.HexToAddress(r.Address),
		Contract:        id,
		Block:           r.Block,
		ConstructorArgs: r.ConstructorArgs,
		Ignore:          domain.Ignore(r.Ignore),
	}
	if r.EncodedConstructorArgs != "" {
		req.EncodedConstructorArgs, err = validation.ParseHex(r.EncodedConstructorArgs)
		if err != nil {
			return domain.Request{}, fmt.Errorf("%w: encodedConstructorArgs: %v", domain.ErrInvalidRequest, err)
		}
	}
	return req, nil
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
