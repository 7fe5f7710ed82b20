package rpc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"payguard/crypto"
	"payguard/native/escrow"
)

type milestoneSpecParam struct {
	Amount          uint64 `json:"amount"`
	Description     string `json:"description,omitempty"`
	DescriptionHash string `json:"descriptionHash,omitempty"`
}

type createParams struct {
	Caller          string               `json:"caller"`
	ID              uint64               `json:"id"`
	Client          string               `json:"client"`
	Freelancer      string               `json:"freelancer"`
	Arbitrator      string               `json:"arbitrator"`
	Asset           string               `json:"asset"`
	TotalAmount     uint64               `json:"totalAmount"`
	DescriptionHash string               `json:"descriptionHash"`
	Milestones      []milestoneSpecParam `json:"milestones"`
}

type fundParams struct {
	Caller  string `json:"caller"`
	Address string `json:"address"`
	Amount  uint64 `json:"amount"`
}

type milestoneActionParams struct {
	Caller  string `json:"caller"`
	Address string `json:"address"`
	Index   uint8  `json:"index"`
	Hash    string `json:"hash,omitempty"`
}

type resolveParams struct {
	Caller    string `json:"caller"`
	Address   string `json:"address"`
	Index     uint8  `json:"index"`
	Decision  string `json:"decision"`
	SplitPct  uint8  `json:"splitPct,omitempty"`
	ProofHash string `json:"proofHash"`
}

type contractRefParams struct {
	Caller  string `json:"caller,omitempty"`
	Address string `json:"address"`
}

type deriveAddressParams struct {
	Creator string `json:"creator"`
	ID      uint64 `json:"id"`
}

type milestoneJSON struct {
	Amount               uint64 `json:"amount"`
	Description          string `json:"description,omitempty"`
	DescriptionHash      string `json:"descriptionHash,omitempty"`
	Status               string `json:"status"`
	ProofHash            string `json:"proofHash,omitempty"`
	DisputeReasonHash    string `json:"disputeReasonHash,omitempty"`
	ArbitrationProofHash string `json:"arbitrationProofHash,omitempty"`
	SubmittedAt          int64  `json:"submittedAt,omitempty"`
}

type contractJSON struct {
	Address         string          `json:"address"`
	ID              uint64          `json:"id"`
	Client          string          `json:"client"`
	Freelancer      string          `json:"freelancer"`
	Arbitrator      string          `json:"arbitrator"`
	Asset           string          `json:"asset"`
	TotalAmount     uint64          `json:"totalAmount"`
	ReleasedAmount  uint64          `json:"releasedAmount"`
	CustodyBalance  uint64          `json:"custodyBalance"`
	DescriptionHash string          `json:"descriptionHash"`
	Status          string          `json:"status"`
	CreatedAt       int64           `json:"createdAt"`
	Funded          bool            `json:"funded"`
	Milestones      []milestoneJSON `json:"milestones"`
}

func decodeParams(req *RPCRequest, dst interface{}) *RPCError {
	if len(req.Params) == 0 {
		return &RPCError{Code: codeInvalidParams, Message: "params required"}
	}
	if err := json.Unmarshal(req.Params, dst); err != nil {
		return &RPCError{Code: codeInvalidParams, Message: fmt.Sprintf("invalid params: %v", err)}
	}
	return nil
}

func parseParty(field, value string) ([20]byte, *RPCError) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(value))
	if err != nil {
		return [20]byte{}, &RPCError{Code: codeInvalidParams, Message: fmt.Sprintf("invalid %s address: %v", field, err)}
	}
	return addr.Fixed(), nil
}

func parseContractAddr(value string) ([32]byte, *RPCError) {
	decoded, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(value), "0x"))
	if err != nil || len(decoded) != 32 {
		return [32]byte{}, &RPCError{Code: codeInvalidParams, Message: "contract address must be 32 hex bytes"}
	}
	var addr [32]byte
	copy(addr[:], decoded)
	return addr, nil
}

func parseHash(field, value string, required bool) ([32]byte, *RPCError) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	if trimmed == "" {
		if required {
			return [32]byte{}, &RPCError{Code: codeInvalidParams, Message: fmt.Sprintf("%s required", field)}
		}
		return [32]byte{}, nil
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil || len(decoded) != 32 {
		return [32]byte{}, &RPCError{Code: codeInvalidParams, Message: fmt.Sprintf("%s must be 32 hex bytes", field)}
	}
	var hash [32]byte
	copy(hash[:], decoded)
	return hash, nil
}

func hashOrEmpty(h [32]byte) string {
	if h == ([32]byte{}) {
		return ""
	}
	return hex.EncodeToString(h[:])
}

func partyString(b [20]byte) string {
	return crypto.MustNewAddress(b[:]).String()
}

func contractView(c *escrow.Contract, custody uint64) *contractJSON {
	addr := c.Address()
	view := &contractJSON{
		Address:         hex.EncodeToString(addr[:]),
		ID:              c.ID,
		Client:          partyString(c.Client),
		Freelancer:      partyString(c.Freelancer),
		Arbitrator:      partyString(c.Arbitrator),
		Asset:           c.Asset,
		TotalAmount:     c.TotalAmount,
		ReleasedAmount:  c.ReleasedAmount,
		CustodyBalance:  custody,
		DescriptionHash: hashOrEmpty(c.DescriptionHash),
		Status:          c.Status.String(),
		CreatedAt:       c.CreatedAt,
		Funded:          c.Funded,
		Milestones:      make([]milestoneJSON, 0, c.MilestoneCount),
	}
	for i := uint8(0); i < c.MilestoneCount; i++ {
		ms := c.Milestones[i]
		view.Milestones = append(view.Milestones, milestoneJSON{
			Amount:               ms.Amount,
			Description:          ms.Description,
			DescriptionHash:      hashOrEmpty(ms.DescriptionHash),
			Status:               ms.Status.String(),
			ProofHash:            hashOrEmpty(ms.ProofHash),
			DisputeReasonHash:    hashOrEmpty(ms.DisputeReasonHash),
			ArbitrationProofHash: hashOrEmpty(ms.ArbitrationProofHash),
			SubmittedAt:          ms.SubmittedAt,
		})
	}
	return view
}

func (s *Server) handleCreate(req *RPCRequest) (interface{}, *RPCError) {
	var params createParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := parseParty("caller", params.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	client, rpcErr := parseParty("client", params.Client)
	if rpcErr != nil {
		return nil, rpcErr
	}
	freelancer, rpcErr := parseParty("freelancer", params.Freelancer)
	if rpcErr != nil {
		return nil, rpcErr
	}
	arbitrator, rpcErr := parseParty("arbitrator", params.Arbitrator)
	if rpcErr != nil {
		return nil, rpcErr
	}
	descHash, rpcErr := parseHash("descriptionHash", params.DescriptionHash, true)
	if rpcErr != nil {
		return nil, rpcErr
	}
	specs := make([]escrow.MilestoneSpec, 0, len(params.Milestones))
	for i, ms := range params.Milestones {
		msHash, rpcErr := parseHash(fmt.Sprintf("milestones[%d].descriptionHash", i), ms.DescriptionHash, false)
		if rpcErr != nil {
			return nil, rpcErr
		}
		specs = append(specs, escrow.MilestoneSpec{
			Amount:          ms.Amount,
			Description:     ms.Description,
			DescriptionHash: msHash,
		})
	}
	contract, err := s.engine.Create(caller, escrow.CreateParams{
		ID:              params.ID,
		Client:          client,
		Freelancer:      freelancer,
		Arbitrator:      arbitrator,
		Asset:           params.Asset,
		TotalAmount:     params.TotalAmount,
		DescriptionHash: descHash,
		Milestones:      specs,
	})
	if err != nil {
		return nil, rpcErrorFor(err)
	}
	return contractView(contract, 0), nil
}

func (s *Server) handleFund(req *RPCRequest) (interface{}, *RPCError) {
	var params fundParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := parseParty("caller", params.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	addr, rpcErr := parseContractAddr(params.Address)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.engine.Fund(addr, caller, params.Amount); err != nil {
		return nil, rpcErrorFor(err)
	}
	return s.contractResult(addr)
}

func (s *Server) handleSubmitMilestone(req *RPCRequest) (interface{}, *RPCError) {
	var params milestoneActionParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := parseParty("caller", params.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	addr, rpcErr := parseContractAddr(params.Address)
	if rpcErr != nil {
		return nil, rpcErr
	}
	proofHash, rpcErr := parseHash("hash", params.Hash, true)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.engine.SubmitMilestone(addr, caller, params.Index, proofHash); err != nil {
		return nil, rpcErrorFor(err)
	}
	return s.contractResult(addr)
}

func (s *Server) handleApproveMilestone(req *RPCRequest) (interface{}, *RPCError) {
	var params milestoneActionParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := parseParty("caller", params.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	addr, rpcErr := parseContractAddr(params.Address)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.engine.ApproveMilestone(addr, caller, params.Index); err != nil {
		return nil, rpcErrorFor(err)
	}
	return s.contractResult(addr)
}

func (s *Server) handleRaiseDispute(req *RPCRequest) (interface{}, *RPCError) {
	var params milestoneActionParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := parseParty("caller", params.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	addr, rpcErr := parseContractAddr(params.Address)
	if rpcErr != nil {
		return nil, rpcErr
	}
	reasonHash, rpcErr := parseHash("hash", params.Hash, true)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.engine.RaiseDispute(addr, caller, params.Index, reasonHash); err != nil {
		return nil, rpcErrorFor(err)
	}
	return s.contractResult(addr)
}

func (s *Server) handleResolveDispute(req *RPCRequest) (interface{}, *RPCError) {
	var params resolveParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := parseParty("caller", params.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	addr, rpcErr := parseContractAddr(params.Address)
	if rpcErr != nil {
		return nil, rpcErr
	}
	proofHash, rpcErr := parseHash("proofHash", params.ProofHash, true)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var decision escrow.Decision
	switch strings.ToLower(strings.TrimSpace(params.Decision)) {
	case "favor_freelancer":
		decision = escrow.DecisionFavorFreelancer
	case "favor_client":
		decision = escrow.DecisionFavorClient
	case "split":
		decision = escrow.DecisionSplit
	default:
		return nil, &RPCError{Code: codeInvalidParams, Message: fmt.Sprintf("unknown decision %q", params.Decision)}
	}
	verdict := escrow.Verdict{Decision: decision, SplitPct: params.SplitPct, ProofHash: proofHash}
	if err := s.engine.ResolveDispute(addr, caller, params.Index, verdict); err != nil {
		return nil, rpcErrorFor(err)
	}
	return s.contractResult(addr)
}

func (s *Server) handleCancel(req *RPCRequest) (interface{}, *RPCError) {
	var params contractRefParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := parseParty("caller", params.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	addr, rpcErr := parseContractAddr(params.Address)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.engine.CancelContract(addr, caller); err != nil {
		return nil, rpcErrorFor(err)
	}
	return s.contractResult(addr)
}

func (s *Server) handleGet(req *RPCRequest) (interface{}, *RPCError) {
	var params contractRefParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	addr, rpcErr := parseContractAddr(params.Address)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return s.contractResult(addr)
}

func (s *Server) handleDeriveAddress(req *RPCRequest) (interface{}, *RPCError) {
	var params deriveAddressParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	creator, rpcErr := parseParty("creator", params.Creator)
	if rpcErr != nil {
		return nil, rpcErr
	}
	addr := escrow.ContractAddress(creator, params.ID)
	return map[string]string{"address": hex.EncodeToString(addr[:])}, nil
}

func (s *Server) contractResult(addr [32]byte) (interface{}, *RPCError) {
	contract, custody, err := s.engine.Get(addr)
	if err != nil {
		return nil, rpcErrorFor(err)
	}
	return contractView(contract, custody), nil
}
