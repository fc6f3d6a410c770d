package vm

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
)

func TestStackPushPop(t *testing.T) {
	st := NewStack()
	if err := st.Push(uint256.NewInt(10)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := st.Push(uint256.NewInt(20)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if st.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", st.Len())
	}
	v, err := st.Pop()
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if v.Uint64() != 20 {
		t.Errorf("Pop = %d, want 20", v.Uint64())
	}
	v, _ = st.Pop()
	if v.Uint64() != 10 {
		t.Errorf("Pop = %d, want 10", v.Uint64())
	}
	if st.Len() != 0 {
		t.Errorf("Len() = %d, want 0", st.Len())
	}
}

func TestStackUnderflow(t *testing.T) {
	st := NewStack()
	if _, err := st.Pop(); !errors.Is(err, ErrStackUnderflow) {
		t.Errorf("Pop on empty: got %v, want ErrStackUnderflow", err)
	}
	if _, err := st.Peek(); !errors.Is(err, ErrStackUnderflow) {
		t.Errorf("Peek on empty: got %v, want ErrStackUnderflow", err)
	}
	if _, err := st.Back(0); !errors.Is(err, ErrStackUnderflow) {
		t.Errorf("Back on empty: got %v, want ErrStackUnderflow", err)
	}
}

func TestStackOverflow(t *testing.T) {
	st := NewStack()
	one := uint256.NewInt(1)
	for i := 0; i < StackLimit; i++ {
		if err := st.Push(one); err != nil {
			t.Fatalf("Push %d: %v", i, err)
		}
	}
	if err := st.Push(one); !errors.Is(err, ErrStackOverflow) {
		t.Fatalf("got %v, want ErrStackOverflow", err)
	}
}

func TestStackSwapDup(t *testing.T) {
	st := NewStack()
	st.Push(uint256.NewInt(1))
	st.Push(uint256.NewInt(2))
	st.Push(uint256.NewInt(3))

	st.swap(2) // top <-> third
	top, _ := st.Peek()
	if top.Uint64() != 1 {
		t.Errorf("after swap(2) top = %d, want 1", top.Uint64())
	}

	st.dup(2)
	if st.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", st.Len())
	}
	top, _ = st.Peek()
	if top.Uint64() != 2 {
		t.Errorf("after dup(2) top = %d, want 2", top.Uint64())
	}
}

func TestStackReset(t *testing.T) {
	st := NewStack()
	st.Push(uint256.NewInt(5))
	st.Reset()
	if st.Len() != 0 {
		t.Errorf("Len() after Reset = %d, want 0", st.Len())
	}
}
