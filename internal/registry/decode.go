package registry

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"gridgallery/internal/chain"
)

// rawModel mirrors the getModel output tuple. Field names follow the ABI
// component names so abi.ConvertType can map them.
type rawModel struct {
	ModelHash    [32]byte
	ModelType    uint8
	FileName     string
	Name         string
	Version      string
	IpfsCid      string
	DownloadUrl  string
	SizeBytes    *big.Int
	Quantization string
	Format       string
	VramMB       uint32
	BaseModel    string
	Inpainting   bool
	Img2img      bool
	Controlnet   bool
	Lora         bool
	IsActive     bool
	IsNSFW       bool
	Timestamp    *big.Int
	Creator      common.Address
}

// rawConstraints mirrors the getConstraints output tuple.
type rawConstraints struct {
	StepsMin          uint16
	StepsMax          uint16
	CfgMinTenths      uint16
	CfgMaxTenths      uint16
	ClipSkip          uint8
	AllowedSamplers   [][32]byte
	AllowedSchedulers [][32]byte
	Exists            bool
}

// decodeModel converts a contract call output into a Model. An all-zero model
// hash marks an absent slot and decodes to nil without error.
func decodeModel(output interface{}) (*Model, error) {
	raw, ok := abi.ConvertType(output, new(rawModel)).(*rawModel)
	if !ok {
		return nil, fmt.Errorf("unexpected getModel output %T", output)
	}
	if raw.ModelHash == ([32]byte{}) {
		return nil, nil
	}
	return &Model{
		Hash:         raw.ModelHash,
		Type:         ModelType(raw.ModelType),
		FileName:     raw.FileName,
		DisplayName:  raw.Name,
		Description:  describeModel(raw.Name),
		IsNSFW:       raw.IsNSFW,
		SizeBytes:    chain.ToUint64(raw.SizeBytes),
		Inpainting:   raw.Inpainting,
		Img2Img:      raw.Img2img,
		Controlnet:   raw.Controlnet,
		Lora:         raw.Lora,
		BaseModel:    raw.BaseModel,
		Architecture: raw.Format,
		IsActive:     raw.IsActive,
	}, nil
}

// decodeConstraints converts a getConstraints output. Tuples with exists=false
// decode to nil. Cfg bounds arrive in tenths and are converted here.
func decodeConstraints(output interface{}) (*Constraints, error) {
	raw, ok := abi.ConvertType(output, new(rawConstraints)).(*rawConstraints)
	if !ok {
		return nil, fmt.Errorf("unexpected getConstraints output %T", output)
	}
	if !raw.Exists {
		return nil, nil
	}
	return &Constraints{
		StepsMin: raw.StepsMin,
		StepsMax: raw.StepsMax,
		CfgMin:   float64(raw.CfgMinTenths) / 10.0,
		CfgMax:   float64(raw.CfgMaxTenths) / 10.0,
		ClipSkip: raw.ClipSkip,
	}, nil
}
