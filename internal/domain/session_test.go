package domain

import "testing"

func TestMergeSlotsSkipsEmptyValues(t *testing.T) {
	s := NewSession("t1", "anon_1")
	s.MergeSlots(map[string]string{"selected_item": "pepperoni"})
	s.MergeSlots(map[string]string{"selected_item": "", "delivery_option": "pickup"})

	if s.Slots["selected_item"] != "pepperoni" {
		t.Errorf("empty value overwrote selected_item: %q", s.Slots["selected_item"])
	}
	if s.Slots["delivery_option"] != "pickup" {
		t.Errorf("expected delivery_option pickup, got %q", s.Slots["delivery_option"])
	}
}

func TestLastAssistantText(t *testing.T) {
	s := NewSession("t1", "anon_1")
	if got := s.LastAssistantText(); got != "" {
		t.Errorf("expected empty on fresh session, got %q", got)
	}

	s.Append(
		Message{Role: RoleUser, Text: "a pepperoni please"},
		Message{Role: Role("supervisor"), Text: "Routing to pizza"},
		Message{Role: Role("pizza"), Text: "Pepperoni, got it."},
		Message{Role: RoleUser, Text: "thanks"},
	)
	if got := s.LastAssistantText(); got != "Pepperoni, got it." {
		t.Errorf("expected last specialist reply, got %q", got)
	}
}

func TestSuspensionActive(t *testing.T) {
	if SuspensionNone.Active() {
		t.Error("none must not be active")
	}
	if !SuspensionAfterPizza.Active() {
		t.Error("after-pizza must be active")
	}
}

func TestSlotsCopyIsIndependent(t *testing.T) {
	s := NewSession("t1", "anon_1")
	s.MergeSlots(map[string]string{"selected_item": "pepperoni"})

	cp := s.SlotsCopy()
	cp["selected_item"] = "mutated"
	if s.Slots["selected_item"] != "pepperoni" {
		t.Error("mutating the copy must not affect the session")
	}
}

func TestChatRoleMapsSpecialistsToAssistant(t *testing.T) {
	cases := []struct {
		role Role
		want string
	}{
		{RoleUser, "user"},
		{RoleSystem, "system"},
		{RoleAssistant, "assistant"},
		{Role("pizza"), "assistant"},
		{Role("supervisor"), "assistant"},
	}
	for _, tc := range cases {
		m := Message{Role: tc.role}
		if got := m.ChatRole(); got != tc.want {
			t.Errorf("ChatRole(%s) = %q, want %q", tc.role, got, tc.want)
		}
	}
}
