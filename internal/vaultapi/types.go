package vaultapi

import "time"

// Secret is one versioned record in a vault. List responses carry metadata
// only; Value is populated by reads and writes.
type Secret struct {
	ID        string            `json:"id,omitempty"`
	VaultID   string            `json:"vault_id,omitempty"`
	Path      string            `json:"path"`
	Value     string            `json:"value,omitempty"`
	Type      string            `json:"type,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Version   int               `json:"version,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// PutSecretRequest writes a new version of a secret. Type and Metadata are
// optional; the upstream carries the previous version's values forward when
// they are omitted.
type PutSecretRequest struct {
	Value    string            `json:"value"`
	Type     string            `json:"type,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Vault is a named container of secrets.
type Vault struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	SecretCount int       `json:"secret_count,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// CreateVaultRequest creates a new vault owned by the calling identity.
type CreateVaultRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ShareSecretRequest grants another agent access to a single secret.
// Permission is "read" or "read_write". TTLSeconds of zero means the grant
// does not expire.
type ShareSecretRequest struct {
	RecipientAgentID string `json:"recipient_agent_id"`
	Permission       string `json:"permission"`
	TTLSeconds       int    `json:"ttl_seconds,omitempty"`
}

// ShareGrant is the upstream's record of a share.
type ShareGrant struct {
	ID               string    `json:"id"`
	SecretID         string    `json:"secret_id"`
	RecipientAgentID string    `json:"recipient_agent_id"`
	Permission       string    `json:"permission"`
	ExpiresAt        time.Time `json:"expires_at"`
	CreatedAt        time.Time `json:"created_at"`
}

// CreatePolicyRequest attaches an access policy to the configured vault.
// Rules is an opaque JSON object evaluated upstream; the client does not
// interpret it.
type CreatePolicyRequest struct {
	Name  string         `json:"name"`
	Rules map[string]any `json:"rules"`
}

// Policy is the upstream's record of a vault access policy.
type Policy struct {
	ID        string         `json:"id"`
	VaultID   string         `json:"vault_id"`
	Name      string         `json:"name"`
	Rules     map[string]any `json:"rules,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// TransactionRequest describes one transaction for the agent's wallet to
// simulate or submit. Value is a decimal string in the chain's smallest
// unit; Data is hex-encoded calldata.
type TransactionRequest struct {
	To      string `json:"to"`
	Value   string `json:"value,omitempty"`
	Data    string `json:"data,omitempty"`
	ChainID int64  `json:"chain_id,omitempty"`
}

// Simulation is the dry-run outcome of a single transaction.
type Simulation struct {
	Success     bool   `json:"success"`
	GasUsed     int64  `json:"gas_used"`
	ReturnValue string `json:"return_value,omitempty"`
	Error       string `json:"error,omitempty"`
}

// BundleRequest simulates an ordered group of transactions atomically.
type BundleRequest struct {
	Transactions []TransactionRequest `json:"transactions"`
}

// BundleSimulation is the dry-run outcome of a bundle. Results are in
// submission order; Success is false when any member failed.
type BundleSimulation struct {
	Success      bool         `json:"success"`
	TotalGasUsed int64        `json:"total_gas_used"`
	Results      []Simulation `json:"results"`
}

// TransactionReceipt acknowledges a submitted transaction.
type TransactionReceipt struct {
	ID          string    `json:"id"`
	Hash        string    `json:"hash,omitempty"`
	Status      string    `json:"status"`
	SubmittedAt time.Time `json:"submitted_at"`
}
