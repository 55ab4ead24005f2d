package manager

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/boltdb/bolt"

	"github.com/flyq/jolt-verifier-canister/internal/zk"
)

var (
	bucketSetups    = []byte("setups")
	bucketSetupInfo = []byte("setup_info")
	bucketProofs    = []byte("proofs")
	bucketProofInfo = []byte("proof_info")
)

// BoltObjectStore persists objects in their canonical encoding and decodes
// them again on read.
type BoltObjectStore struct {
	db    *bolt.DB
	codec zk.Codec
}

// OpenBoltObjectStore opens (or creates) the store at path.
func OpenBoltObjectStore(path string, codec zk.Codec) (*BoltObjectStore, error) {
	db, err := bolt.Open(filepath.Clean(path), 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open object store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketSetups, bucketSetupInfo, bucketProofs, bucketProofInfo} {
			if _, e := tx.CreateBucketIfNotExists(name); e != nil {
				return e
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}
	return &BoltObjectStore{db: db, codec: codec}, nil
}

func (b *BoltObjectStore) Close() error { return b.db.Close() }

func u32Key(v uint32) []byte {
	k := make([]byte, 4)
	binary.BigEndian.PutUint32(k, v)
	return k
}

func (b *BoltObjectStore) PutSetup(program uint32, setup zk.Setup, info ObjectInfo) error {
	data, err := setup.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to encode setup: %w", err)
	}
	info.Program = program
	info.ProofID = nil
	meta, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to encode setup info: %w", err)
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		key := u32Key(program)
		if err := tx.Bucket(bucketSetups).Put(key, data); err != nil {
			return err
		}
		return tx.Bucket(bucketSetupInfo).Put(key, meta)
	})
}

// nextProofID returns the id the next proof of a program bucket receives.
func nextProofID(bk *bolt.Bucket) uint32 {
	k, _ := bk.Cursor().Last()
	if k == nil {
		return 0
	}
	return binary.BigEndian.Uint32(k) + 1
}

func (b *BoltObjectStore) AppendProof(program uint32, proof zk.Proof, info ObjectInfo) (uint32, error) {
	data, err := proof.MarshalBinary()
	if err != nil {
		return 0, fmt.Errorf("failed to encode proof: %w", err)
	}

	var id uint32
	err = b.db.Update(func(tx *bolt.Tx) error {
		pkey := u32Key(program)
		proofs, err := tx.Bucket(bucketProofs).CreateBucketIfNotExists(pkey)
		if err != nil {
			return err
		}
		infos, err := tx.Bucket(bucketProofInfo).CreateBucketIfNotExists(pkey)
		if err != nil {
			return err
		}

		id = nextProofID(proofs)
		info.Program = program
		info.ProofID = &id
		meta, err := json.Marshal(info)
		if err != nil {
			return fmt.Errorf("failed to encode proof info: %w", err)
		}
		if err := proofs.Put(u32Key(id), data); err != nil {
			return err
		}
		return infos.Put(u32Key(id), meta)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// copyValue copies a bolt value out of its transaction.
func copyValue(v []byte) []byte {
	if v == nil {
		return nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out
}

func (b *BoltObjectStore) GetSetup(program uint32) (zk.Setup, error) {
	var data []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		data = copyValue(tx.Bucket(bucketSetups).Get(u32Key(program)))
		return nil
	})
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, ErrSetupNotFound
	}

	setup, err := b.codec.DecodeSetup(data)
	if err != nil {
		return nil, fmt.Errorf("%w: setup %d: %v", ErrCorrupted, program, err)
	}
	return setup, nil
}

func (b *BoltObjectStore) GetProof(program, proofID uint32) (zk.Proof, error) {
	var data []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketProofs).Bucket(u32Key(program))
		if bk == nil {
			return nil
		}
		data = copyValue(bk.Get(u32Key(proofID)))
		return nil
	})
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, ErrProofNotFound
	}

	proof, err := b.codec.DecodeProof(data)
	if err != nil {
		return nil, fmt.Errorf("%w: proof %d/%d: %v", ErrCorrupted, program, proofID, err)
	}
	return proof, nil
}

func (b *BoltObjectStore) SetupInfo(program uint32) (ObjectInfo, error) {
	var info ObjectInfo
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketSetupInfo).Get(u32Key(program))
		if v == nil {
			return ErrSetupNotFound
		}
		return json.Unmarshal(v, &info)
	})
	return info, err
}

func (b *BoltObjectStore) ProofInfo(program, proofID uint32) (ObjectInfo, error) {
	var info ObjectInfo
	err := b.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketProofInfo).Bucket(u32Key(program))
		if bk == nil {
			return ErrProofNotFound
		}
		v := bk.Get(u32Key(proofID))
		if v == nil {
			return ErrProofNotFound
		}
		return json.Unmarshal(v, &info)
	})
	return info, err
}

func (b *BoltObjectStore) ProofCount(program uint32) (uint32, error) {
	var n uint32
	err := b.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketProofs).Bucket(u32Key(program))
		if bk != nil {
			n = nextProofID(bk)
		}
		return nil
	})
	return n, err
}

// Programs returns every program id that has a setup or a proof, ascending.
func (b *BoltObjectStore) Programs() ([]uint32, error) {
	seen := make(map[uint32]struct{})
	err := b.db.View(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketSetups, bucketProofs} {
			c := tx.Bucket(name).Cursor()
			for k, _ := c.First(); k != nil; k, _ = c.Next() {
				if len(k) == 4 {
					seen[binary.BigEndian.Uint32(k)] = struct{}{}
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sortedKeys(seen), nil
}

func (b *BoltObjectStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketSetups) == nil {
			return bolt.ErrBucketNotFound
		}
		return nil
	})
}

func sortedKeys(set map[uint32]struct{}) []uint32 {
	out := make([]uint32, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
